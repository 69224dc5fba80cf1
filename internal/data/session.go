package data

import (
	"context"
	"encoding/json"
	"fmt"

	"TrendGate/internal/conf"
	"TrendGate/internal/model"
	"TrendGate/pkg/crypto"
	pkglog "TrendGate/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// SessionStore persists the single identity session record.
// Load returns model.ErrSessionNotFound when nothing has been saved.
type SessionStore interface {
	Load(ctx context.Context) (*model.SessionRecord, error)
	Save(ctx context.Context, rec *model.SessionRecord) error
	Delete(ctx context.Context) error
}

// sessionCodec turns a record into bytes, sealing them when a key is set.
// Unsealed payloads are still accepted on read so encryption can be turned on
// for an existing store.
type sessionCodec struct {
	sealer *crypto.Sealer
}

func newSessionCodec(c *conf.Session) (sessionCodec, error) {
	if c == nil || c.EncryptionKey == "" {
		return sessionCodec{}, nil
	}
	s, err := crypto.NewSealer([]byte(c.EncryptionKey))
	if err != nil {
		return sessionCodec{}, err
	}
	return sessionCodec{sealer: s}, nil
}

func (c sessionCodec) encode(rec *model.SessionRecord) ([]byte, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	if c.sealer == nil {
		return payload, nil
	}
	return c.sealer.Seal(payload)
}

func (c sessionCodec) decode(payload []byte) (*model.SessionRecord, error) {
	if crypto.IsSealed(payload) {
		if c.sealer == nil {
			return nil, fmt.Errorf("session record is encrypted but no encryption key is configured")
		}
		plain, err := c.sealer.Open(payload)
		if err != nil {
			return nil, err
		}
		payload = plain
	}
	var rec model.SessionRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &rec, nil
}

// NewSessionStore builds the store selected by data.session.driver.
func NewSessionStore(c *conf.Data, rdb *redis.Client, db *gorm.DB, logger log.Logger) (SessionStore, error) {
	sc := &conf.Session{Driver: "file", Path: ".trendgate/session.json", Key: "default"}
	if c != nil && c.Session != nil {
		sc = c.Session
	}
	codec, err := newSessionCodec(sc)
	if err != nil {
		return nil, err
	}

	helper := pkglog.NewLogHelper(logger)
	helper.Storage("Session store selected", "driver", sc.Driver, "encrypted", codec.sealer != nil)

	switch sc.Driver {
	case "", "file":
		return NewFileSessionStore(sc.Path, codec, logger), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis session driver requires data.redis.addr")
		}
		return NewRedisSessionStore(rdb, sc.Key, sc.TTL, codec, logger), nil
	case "mysql":
		if db == nil {
			return nil, fmt.Errorf("mysql session driver requires data.database.source")
		}
		return NewMySQLSessionStore(db, sc.Key, codec, logger), nil
	default:
		return nil, fmt.Errorf("unknown session driver %q", sc.Driver)
	}
}
