package changeindex

import (
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yungbote/masterctl/internal/platform/dbctx"
)

// Filter narrows ListChanges. Zero-value fields are unconstrained, except
// Limit: a zero Limit returns at most 50 rows.
type Filter struct {
	EventType string
	Outcome   string
	Since     time.Time
	Limit     int
	Offset    int
}

type Repo interface {
	RecordInitiated(dbc dbctx.Context, row ChangeRow) error
	RecordFinalized(dbc dbctx.Context, changeID, outcome string, finalizedAt time.Time) error
	List(dbc dbctx.Context, f Filter) ([]ChangeRow, int64, error)
	GetLastSuccessfulOfType(dbc dbctx.Context, eventType string) (*ChangeRow, error)
}

type repo struct {
	db *gorm.DB
}

// Open creates (or attaches to) a sqlite database file backing the
// change index. Safe to call with a path under the Journal root; the
// file is created on first use and the schema migrated idempotently.
func Open(path string) (Repo, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&ChangeRow{}); err != nil {
		return nil, err
	}
	return &repo{db: db}, nil
}

func (r *repo) RecordInitiated(dbc dbctx.Context, row ChangeRow) error {
	tx := r.txOrDB(dbc)
	return tx.WithContext(dbc.Ctx).Create(&row).Error
}

func (r *repo) RecordFinalized(dbc dbctx.Context, changeID, outcome string, finalizedAt time.Time) error {
	tx := r.txOrDB(dbc)
	return tx.WithContext(dbc.Ctx).
		Model(&ChangeRow{}).
		Where("change_id = ?", changeID).
		Updates(map[string]interface{}{
			"outcome":      outcome,
			"finalized_at": finalizedAt,
		}).Error
}

func (r *repo) List(dbc dbctx.Context, f Filter) ([]ChangeRow, int64, error) {
	tx := r.txOrDB(dbc).WithContext(dbc.Ctx).Model(&ChangeRow{})
	if f.EventType != "" {
		tx = tx.Where("event_type = ?", f.EventType)
	}
	if f.Outcome != "" {
		tx = tx.Where("outcome = ?", f.Outcome)
	}
	if !f.Since.IsZero() {
		tx = tx.Where("timestamp >= ?", f.Since)
	}
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	var rows []ChangeRow
	if err := tx.Order("timestamp DESC").Offset(f.Offset).Limit(limit).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (r *repo) GetLastSuccessfulOfType(dbc dbctx.Context, eventType string) (*ChangeRow, error) {
	var row ChangeRow
	err := r.txOrDB(dbc).WithContext(dbc.Ctx).
		Where("event_type = ? AND outcome = ?", eventType, "Success").
		Order("timestamp DESC").
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *repo) txOrDB(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}
