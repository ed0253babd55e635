// Package session implements the Session model and store contract of
// spec §3/§4.2: records keyed by connection id, persisted as JSON in
// Redis under session:<id>, with TTL renewed on every load or update.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Session is a value type (spec §9: break the Connection<->Session
// cycle by making Session value-typed, not a pointer the Connection
// caches and the store also owns).
type Session struct {
	ID         string         `json:"id"`
	CookieName string         `json:"cookieName"`
	CreatedAt  time.Time      `json:"createdAt"`
	Data       map[string]any `json:"data"`
}

// UserID returns the typed "userId" view described in spec §9, so
// callers don't reach into the opaque Data map by hand.
func (s Session) UserID() (string, bool) {
	if s.Data == nil {
		return "", false
	}
	v, ok := s.Data["userId"]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, t != ""
	case float64:
		if t == 0 {
			return "", false
		}
		return jsonNumber(t), true
	default:
		return "", false
	}
}

func jsonNumber(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

func key(id string) string { return "session:" + id }

// Store is the Redis-backed session store.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewStore(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *Store {
	return &Store{rdb: rdb, ttl: ttl, log: log.Named("session")}
}

// Create stores {id, cookieName, createdAt, data} at session:<id> with
// EX=ttl, and returns the stored record.
func (s *Store) Create(ctx context.Context, connID, cookieName string, data map[string]any) (Session, error) {
	if data == nil {
		data = map[string]any{}
	}
	rec := Session{
		ID:         connID,
		CookieName: cookieName,
		CreatedAt:  time.Now(),
		Data:       data,
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return Session{}, err
	}
	if err := s.rdb.Set(ctx, key(connID), buf, s.ttl).Err(); err != nil {
		return Session{}, err
	}
	return rec, nil
}

// Load returns the record for connID, or (Session{}, false, nil) if
// absent. On a hit, the TTL is refreshed to s.ttl.
func (s *Store) Load(ctx context.Context, connID string) (Session, bool, error) {
	raw, err := s.rdb.Get(ctx, key(connID)).Bytes()
	if err == redis.Nil {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	var rec Session
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Session{}, false, err
	}
	if err := s.rdb.Expire(ctx, key(connID), s.ttl).Err(); err != nil {
		s.log.Warn("failed to refresh session ttl", zap.String("id", connID), zap.Error(err))
	}
	return rec, true, nil
}

// Update merges patch into the session's data (patch keys overwrite),
// rewrites the record, refreshes TTL, and returns the merged data.
func (s *Store) Update(ctx context.Context, sess Session, patch map[string]any) (map[string]any, error) {
	if sess.Data == nil {
		sess.Data = map[string]any{}
	}
	for k, v := range patch {
		sess.Data[k] = v
	}
	buf, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	if err := s.rdb.Set(ctx, key(sess.ID), buf, s.ttl).Err(); err != nil {
		return nil, err
	}
	return sess.Data, nil
}

// Destroy deletes the session key, returning true iff a key existed.
func (s *Store) Destroy(ctx context.Context, connID string) (bool, error) {
	n, err := s.rdb.Del(ctx, key(connID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
