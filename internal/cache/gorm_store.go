package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/iago/section-writer-back/internal/domain"
)

type cachedSession struct {
	SessionKey        string `gorm:"primaryKey;size:512"`
	TranscriptsLoaded bool
	FactsExtracted    bool
	FactsJSON         string `gorm:"type:text"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type cachedTranscript struct {
	ID         uint   `gorm:"primaryKey"`
	SessionKey string `gorm:"index;size:512;not null"`
	Position   int
	Key        string `gorm:"size:255"`
	Name       string `gorm:"size:512"`
	FileName   string `gorm:"size:512"`
	Text       string `gorm:"type:text"`
	FetchedAt  time.Time
}

type cachedSection struct {
	SessionKey string `gorm:"primaryKey;size:512"`
	Title      string `gorm:"primaryKey;size:255"`
	Content    string `gorm:"type:text"`
	Source     string `gorm:"size:32"`
	RecordedAt time.Time
}

// GormStore persists snapshots on local disk (sqlite) or in Postgres.
type GormStore struct {
	db *gorm.DB
}

func OpenGormStore(driver, dsn string) (*GormStore, error) {
	gormConfig := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(driver) {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite", "":
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, fmt.Errorf("create cache dir: %w", mkErr)
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), gormConfig)
		if err == nil {
			err = db.Exec("PRAGMA journal_mode=WAL").Error
		}
	default:
		return nil, fmt.Errorf("unsupported cache driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}
	return NewGormStore(db)
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&cachedSession{}, &cachedTranscript{}, &cachedSection{}); err != nil {
		return nil, fmt.Errorf("migrate cache store: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) session(ctx context.Context, key domain.SessionKey) (cachedSession, bool, error) {
	var row cachedSession
	err := s.db.WithContext(ctx).Where("session_key = ?", key.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cachedSession{}, false, nil
	}
	if err != nil {
		return cachedSession{}, false, fmt.Errorf("load cached session: %w", err)
	}
	return row, true, nil
}

func (s *GormStore) Transcripts(ctx context.Context, key domain.SessionKey) ([]domain.Transcript, bool, error) {
	row, found, err := s.session(ctx, key)
	if err != nil || !found || !row.TranscriptsLoaded {
		return nil, false, err
	}

	var rows []cachedTranscript
	if err := s.db.WithContext(ctx).
		Where("session_key = ?", key.String()).
		Order("position").
		Find(&rows).Error; err != nil {
		return nil, false, fmt.Errorf("load cached transcripts: %w", err)
	}

	transcripts := make([]domain.Transcript, 0, len(rows))
	for _, r := range rows {
		transcripts = append(transcripts, domain.Transcript{
			Key:       r.Key,
			Name:      r.Name,
			FileName:  r.FileName,
			Text:      r.Text,
			FetchedAt: r.FetchedAt.UTC(),
		})
	}
	return transcripts, true, nil
}

func (s *GormStore) SaveTranscripts(ctx context.Context, key domain.SessionKey, transcripts []domain.Transcript) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_key = ?", key.String()).Delete(&cachedTranscript{}).Error; err != nil {
			return fmt.Errorf("clear cached transcripts: %w", err)
		}
		rows := make([]cachedTranscript, 0, len(transcripts))
		for index, transcript := range transcripts {
			rows = append(rows, cachedTranscript{
				SessionKey: key.String(),
				Position:   index,
				Key:        transcript.Key,
				Name:       transcript.Name,
				FileName:   transcript.FileName,
				Text:       transcript.Text,
				FetchedAt:  transcript.FetchedAt,
			})
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 50).Error; err != nil {
				return fmt.Errorf("save cached transcripts: %w", err)
			}
		}
		return upsertSession(tx, key, map[string]any{"transcripts_loaded": true})
	})
}

func (s *GormStore) Facts(ctx context.Context, key domain.SessionKey) ([]domain.Fact, bool, error) {
	row, found, err := s.session(ctx, key)
	if err != nil || !found || !row.FactsExtracted {
		return nil, false, err
	}
	facts := make([]domain.Fact, 0)
	if row.FactsJSON != "" {
		if err := json.Unmarshal([]byte(row.FactsJSON), &facts); err != nil {
			return nil, false, fmt.Errorf("decode cached facts: %w", err)
		}
	}
	return facts, true, nil
}

func (s *GormStore) SaveFacts(ctx context.Context, key domain.SessionKey, facts []domain.Fact) error {
	encoded, err := json.Marshal(facts)
	if err != nil {
		return fmt.Errorf("encode facts: %w", err)
	}
	return upsertSession(s.db.WithContext(ctx), key, map[string]any{
		"facts_extracted": true,
		"facts_json":      string(encoded),
	})
}

func (s *GormStore) Sections(ctx context.Context, key domain.SessionKey) (map[string]domain.SectionRecord, error) {
	var rows []cachedSection
	if err := s.db.WithContext(ctx).Where("session_key = ?", key.String()).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load cached sections: %w", err)
	}
	sections := make(map[string]domain.SectionRecord, len(rows))
	for _, r := range rows {
		sections[r.Title] = domain.SectionRecord{
			Title:     r.Title,
			Content:   r.Content,
			Source:    r.Source,
			UpdatedAt: r.RecordedAt.UTC(),
		}
	}
	return sections, nil
}

func (s *GormStore) SaveSections(ctx context.Context, key domain.SessionKey, sections map[string]domain.SectionRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_key = ?", key.String()).Delete(&cachedSection{}).Error; err != nil {
			return fmt.Errorf("clear cached sections: %w", err)
		}
		rows := make([]cachedSection, 0, len(sections))
		for title, record := range sections {
			rows = append(rows, cachedSection{
				SessionKey: key.String(),
				Title:      title,
				Content:    record.Content,
				Source:     record.Source,
				RecordedAt: record.UpdatedAt,
			})
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 50).Error; err != nil {
				return fmt.Errorf("save cached sections: %w", err)
			}
		}
		return nil
	})
}

func upsertSession(tx *gorm.DB, key domain.SessionKey, updates map[string]any) error {
	row := cachedSession{SessionKey: key.String()}
	if err := tx.Where(cachedSession{SessionKey: key.String()}).FirstOrCreate(&row).Error; err != nil {
		return fmt.Errorf("create cached session: %w", err)
	}
	if err := tx.Model(&row).Updates(updates).Error; err != nil {
		return fmt.Errorf("update cached session: %w", err)
	}
	return nil
}
