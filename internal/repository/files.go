package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iago/section-writer-back/internal/domain"
)

// PostgresFileIndex lists uploaded opportunity files in upload order.
type PostgresFileIndex struct {
	DB *sql.DB
}

func NewPostgresFileIndex(db *sql.DB) *PostgresFileIndex {
	return &PostgresFileIndex{DB: db}
}

func (r *PostgresFileIndex) ListOpportunityFiles(ctx context.Context, opportunityID string) ([]domain.OpportunityFile, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, opportunity_id, file_name, file_path, mime_type, description, created_at
		FROM opportunity_files
		WHERE opportunity_id = $1
		ORDER BY created_at
	`, opportunityID)
	if err != nil {
		return nil, fmt.Errorf("query opportunity files: %w", err)
	}
	defer rows.Close()

	files := make([]domain.OpportunityFile, 0)
	for rows.Next() {
		var (
			file        domain.OpportunityFile
			mimeType    sql.NullString
			description sql.NullString
		)
		if err := rows.Scan(
			&file.ID,
			&file.OpportunityID,
			&file.FileName,
			&file.FilePath,
			&mimeType,
			&description,
			&file.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan opportunity file: %w", err)
		}
		file.MimeType = mimeType.String
		file.Description = description.String
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate opportunity files: %w", err)
	}
	return files, nil
}
