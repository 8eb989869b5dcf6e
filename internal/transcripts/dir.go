package transcripts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/iago/section-writer-back/internal/domain"
)

// DirSource serves files laid out as <root>/<opportunity_id>/<file> for local
// development. It acts as both the file index and the blob store; files are
// ordered by modification time, then name.
type DirSource struct {
	root string
}

func NewDirSource(root string) *DirSource {
	return &DirSource{root: root}
}

func (d *DirSource) ListOpportunityFiles(_ context.Context, opportunityID string) ([]domain.OpportunityFile, error) {
	if strings.ContainsAny(opportunityID, `/\`) || opportunityID == ".." {
		return nil, fmt.Errorf("invalid opportunity id %q", opportunityID)
	}
	dir := filepath.Join(d.root, opportunityID)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []domain.OpportunityFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read transcripts dir: %w", err)
	}

	files := make([]domain.OpportunityFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		files = append(files, domain.OpportunityFile{
			ID:            opportunityID + "/" + entry.Name(),
			OpportunityID: opportunityID,
			FileName:      entry.Name(),
			FilePath:      opportunityID + "/" + entry.Name(),
			CreatedAt:     info.ModTime().UTC(),
		})
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].FileName < files[j].FileName
		}
		return files[i].CreatedAt.Before(files[j].CreatedAt)
	})
	return files, nil
}

func (d *DirSource) Download(_ context.Context, path string) (io.ReadCloser, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return nil, fmt.Errorf("invalid transcript path %q", path)
	}
	file, err := os.Open(filepath.Join(d.root, clean))
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	return file, nil
}
