package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iago/section-writer-back/internal/domain"
)

// SectionsRepository is the authoritative store for report sections.
type SectionsRepository interface {
	ListSections(ctx context.Context, key domain.SessionKey) ([]domain.SectionRecord, error)
	UpsertSection(ctx context.Context, key domain.SessionKey, title, content, source string) (domain.SectionRecord, error)
}

type PostgresSectionsRepository struct {
	DB *sql.DB
}

func NewPostgresSectionsRepository(db *sql.DB) *PostgresSectionsRepository {
	return &PostgresSectionsRepository{DB: db}
}

func (r *PostgresSectionsRepository) ListSections(ctx context.Context, key domain.SessionKey) ([]domain.SectionRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT section_title, content, source, updated_at
		FROM report_sections
		WHERE customer_id = $1 AND opportunity_id = $2 AND report_type = $3
		ORDER BY section_title
	`, key.CustomerID, key.OpportunityID, key.ReportType)
	if err != nil {
		return nil, fmt.Errorf("query sections: %w", err)
	}
	defer rows.Close()

	records := make([]domain.SectionRecord, 0)
	for rows.Next() {
		var record domain.SectionRecord
		if err := rows.Scan(&record.Title, &record.Content, &record.Source, &record.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		record.UpdatedAt = record.UpdatedAt.UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}
	return records, nil
}

// UpsertSection writes the section and returns the database timestamp, which
// callers must use as the cached record's timestamp.
func (r *PostgresSectionsRepository) UpsertSection(
	ctx context.Context,
	key domain.SessionKey,
	title string,
	content string,
	source string,
) (domain.SectionRecord, error) {
	var updatedAt time.Time
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO report_sections (customer_id, opportunity_id, report_type, section_title, content, source, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (customer_id, opportunity_id, report_type, section_title)
		DO UPDATE SET content = EXCLUDED.content, source = EXCLUDED.source, updated_at = now()
		RETURNING updated_at
	`, key.CustomerID, key.OpportunityID, key.ReportType, title, content, source).Scan(&updatedAt)
	if err != nil {
		return domain.SectionRecord{}, fmt.Errorf("upsert section: %w", err)
	}
	return domain.SectionRecord{
		Title:     title,
		Content:   content,
		Source:    source,
		UpdatedAt: updatedAt.UTC(),
	}, nil
}

// MemorySectionsRepository stands in for the database in local development.
type MemorySectionsRepository struct {
	mu       sync.RWMutex
	sections map[string]map[string]domain.SectionRecord
	now      func() time.Time
}

func NewMemorySectionsRepository() *MemorySectionsRepository {
	return &MemorySectionsRepository{
		sections: make(map[string]map[string]domain.SectionRecord),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemorySectionsRepository) ListSections(_ context.Context, key domain.SessionKey) ([]domain.SectionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket := r.sections[key.String()]
	records := make([]domain.SectionRecord, 0, len(bucket))
	for _, record := range bucket {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Title < records[j].Title })
	return records, nil
}

func (r *MemorySectionsRepository) UpsertSection(
	_ context.Context,
	key domain.SessionKey,
	title string,
	content string,
	source string,
) (domain.SectionRecord, error) {
	record := domain.SectionRecord{Title: title, Content: content, Source: source, UpdatedAt: r.now()}
	r.Set(key, record)
	return record, nil
}

// Set writes a record with its own timestamp, as an external editor would.
func (r *MemorySectionsRepository) Set(key domain.SessionKey, record domain.SectionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.sections[key.String()]
	if !ok {
		bucket = make(map[string]domain.SectionRecord)
		r.sections[key.String()] = bucket
	}
	bucket[record.Title] = record
}
