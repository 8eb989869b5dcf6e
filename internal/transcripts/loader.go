// Package transcripts fetches the files attached to an opportunity and turns
// them into plain-text transcripts.
package transcripts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/iago/section-writer-back/internal/domain"
	"github.com/iago/section-writer-back/internal/logger"
)

const DefaultMaxBytes = 25 * 1024 * 1024

type FileIndex interface {
	ListOpportunityFiles(ctx context.Context, opportunityID string) ([]domain.OpportunityFile, error)
}

type BlobStore interface {
	Download(ctx context.Context, path string) (io.ReadCloser, error)
}

type LoaderConfig struct {
	FailFast bool
	MaxBytes int64
}

type Loader struct {
	index    FileIndex
	blobs    BlobStore
	failFast bool
	maxBytes int64
	log      *logger.Logger
	now      func() time.Time
}

func NewLoader(index FileIndex, blobs BlobStore, config LoaderConfig, log *logger.Logger) *Loader {
	if config.MaxBytes <= 0 {
		config.MaxBytes = DefaultMaxBytes
	}
	return &Loader{
		index:    index,
		blobs:    blobs,
		failFast: config.FailFast,
		maxBytes: config.MaxBytes,
		log:      logger.OrDiscard(log).WithComponent("transcript_loader"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// FileError describes one file that could not become a transcript.
type FileError struct {
	FileName string
	Name     string
	Err      error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.FileName, e.Name, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Fetch lists the opportunity's files in upload order and extracts each one.
// Per-file failures are logged and skipped unless the loader is fail-fast.
// Listing failures are always returned.
func (l *Loader) Fetch(ctx context.Context, key domain.SessionKey) ([]domain.Transcript, error) {
	if strings.TrimSpace(key.CustomerID) == "" || strings.TrimSpace(key.OpportunityID) == "" {
		return []domain.Transcript{}, nil
	}

	files, err := l.index.ListOpportunityFiles(ctx, key.OpportunityID)
	if err != nil {
		return nil, fmt.Errorf("list opportunity files: %w", err)
	}

	transcripts := make([]domain.Transcript, 0, len(files))
	usedKeys := make(map[string]bool, len(files))
	failures := make([]error, 0)
	for _, file := range files {
		if strings.TrimSpace(file.FilePath) == "" || strings.TrimSpace(file.FileName) == "" {
			continue
		}
		name := file.Description
		if strings.TrimSpace(name) == "" {
			name = file.FileName
		}

		text, skip, err := l.load(ctx, file)
		if err != nil {
			fileErr := &FileError{FileName: file.FileName, Name: name, Err: err}
			if l.failFast {
				return nil, fileErr
			}
			failures = append(failures, fileErr)
			continue
		}
		if skip {
			continue
		}

		transcriptKey := uniqueKey(safeName(firstNonBlank(file.Description, strings.TrimSuffix(file.FileName, filepath.Ext(file.FileName)))), usedKeys)
		transcripts = append(transcripts, domain.Transcript{
			Key:       transcriptKey,
			Name:      name,
			FileName:  file.FileName,
			Text:      text,
			FetchedAt: l.now(),
		})
	}

	if len(failures) > 0 {
		l.log.WithError(errors.Join(failures...)).WithFields(logger.Fields{
			logger.FieldSessionKey: key.String(),
			logger.FieldCount:      len(failures),
		}).Warn("transcript fetch failures")
	}
	return transcripts, nil
}

func (l *Loader) load(ctx context.Context, file domain.OpportunityFile) (string, bool, error) {
	body, err := l.blobs.Download(ctx, file.FilePath)
	if err != nil {
		return "", false, fmt.Errorf("download: %w", err)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, l.maxBytes+1))
	if err != nil {
		return "", false, fmt.Errorf("read: %w", err)
	}
	if len(data) == 0 {
		return "", true, nil
	}
	if int64(len(data)) > l.maxBytes {
		return "", false, fmt.Errorf("file exceeds %d bytes", l.maxBytes)
	}

	text, err := ExtractText(data, file.MimeType, file.FileName)
	if err != nil {
		return "", false, err
	}
	return text, false, nil
}

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9_\-]+`)

func safeName(value string) string {
	value = unsafeNameChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(value)), "_")
	if len(value) > 80 {
		value = value[:80]
	}
	if value == "" {
		return "file"
	}
	return value
}

func uniqueKey(base string, used map[string]bool) string {
	key := base
	for i := 2; used[key]; i++ {
		key = base + "_" + strconv.Itoa(i)
	}
	used[key] = true
	return key
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
