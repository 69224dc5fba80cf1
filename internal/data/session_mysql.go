package data

import (
	"context"
	"fmt"
	"time"

	"TrendGate/internal/model"
	pkgerrors "TrendGate/pkg/errors"
	pkglog "TrendGate/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// sessionRow is one persisted session record.
type sessionRow struct {
	Key       string    `gorm:"column:session_key;primaryKey;size:128"`
	Payload   []byte    `gorm:"column:payload;type:mediumblob;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName specifies the table name for GORM.
func (sessionRow) TableName() string {
	return "sessions"
}

// MySQLSessionStore keeps the record as one row keyed by session key.
type MySQLSessionStore struct {
	db    *gorm.DB
	key   string
	codec sessionCodec
	log   *pkglog.LogHelper
}

// NewMySQLSessionStore creates a MySQL-backed store.
func NewMySQLSessionStore(db *gorm.DB, key string, codec sessionCodec, logger log.Logger) *MySQLSessionStore {
	if key == "" {
		key = "default"
	}
	return &MySQLSessionStore{db: db, key: key, codec: codec, log: pkglog.NewLogHelper(logger)}
}

// Load reads the record.
func (s *MySQLSessionStore) Load(ctx context.Context) (*model.SessionRecord, error) {
	var row sessionRow
	err := s.retry(func() error {
		return s.db.WithContext(ctx).Where("session_key = ?", s.key).First(&row).Error
	})
	if pkgerrors.IsNotFoundError(err) {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, pkgerrors.ClassifyDBError(err)
	}
	rec, err := s.codec.decode(row.Payload)
	if err != nil {
		return nil, err
	}
	s.log.Storage("Session loaded", "key", s.key, "cookies", len(rec.Cookies))
	return rec, nil
}

// Save upserts the record.
func (s *MySQLSessionStore) Save(ctx context.Context, rec *model.SessionRecord) error {
	payload, err := s.codec.encode(rec)
	if err != nil {
		return err
	}
	row := sessionRow{Key: s.key, Payload: payload, UpdatedAt: time.Now().UTC()}
	err = s.retry(func() error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).Create(&row).Error
	})
	if err != nil {
		return pkgerrors.ClassifyDBError(err)
	}
	s.log.Storage("Session saved", "key", s.key, "cookies", len(rec.Cookies))
	return nil
}

// Delete removes the record.
func (s *MySQLSessionStore) Delete(ctx context.Context) error {
	err := s.retry(func() error {
		return s.db.WithContext(ctx).Where("session_key = ?", s.key).Delete(&sessionRow{}).Error
	})
	if err != nil {
		return pkgerrors.ClassifyDBError(err)
	}
	return nil
}

// retry runs op again once when the first failure is transient.
func (s *MySQLSessionStore) retry(op func() error) error {
	err := op()
	if err == nil || !pkgerrors.IsRetryable(err) {
		return err
	}
	s.log.Warnw("msg", "retrying session statement", "error", err)
	if err2 := op(); err2 != nil {
		return fmt.Errorf("%w (after retry)", err2)
	}
	return nil
}
