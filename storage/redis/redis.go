// Package redis provides a Redis backed storage.Store for deployments that
// run several grantd instances against shared state.
//
// Codes are JSON values written with SET NX and a TTL, and consumed with
// GETDEL. Token pairs are hashes at <prefix>token:<id>, with
// <prefix>access:<token> and <prefix>refresh:<token> pointing at the id.
// Creation and rotation touch several keys, so both run as Lua scripts.
package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/lumenweb/grantd/errors"
	"github.com/lumenweb/grantd/storage"

	"github.com/redis/go-redis/v9"
)

// Codes outlive their expiry by this much so that a late exchange is reported
// as expired rather than unknown.
const codeGrace = 5 * time.Minute

// DefaultKeyPrefix namespaces every key the store writes.
const DefaultKeyPrefix = "grantd:"

// Config holds connection settings.
type Config struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New connects to a single Redis node and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis: address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  durationOr(cfg.DialTimeout, 5*time.Second),
		ReadTimeout:  durationOr(cfg.ReadTimeout, 3*time.Second),
		WriteTimeout: durationOr(cfg.WriteTimeout, 3*time.Second),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Mark(storage.ErrUnavailable, 0).Append(err.Error())
	}
	return NewWithClient(client, cfg.KeyPrefix), nil
}

// NewWithClient wraps an existing client, e.g. one pointed at miniredis.
func NewWithClient(client redis.UniversalClient, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: keyPrefix}
}

// Store implements storage.Store.
type Store struct {
	client redis.UniversalClient
	prefix string
}

var _ storage.Store = (*Store)(nil)

type storedCode struct {
	Code        string `json:"code"`
	ClientID    string `json:"client_id"`
	UserID      int64  `json:"user_id"`
	RedirectURI string `json:"redirect_uri"`
	Scopes      string `json:"scopes"`
	ExpiresAt   int64  `json:"expires_at"`
	CreatedAt   int64  `json:"created_at"`
}

func (s *Store) clientKey(id string) string   { return s.prefix + "client:" + id }
func (s *Store) codeKey(code string) string   { return s.prefix + "code:" + code }
func (s *Store) tokenKey(id string) string    { return s.prefix + "token:" + id }
func (s *Store) accessKey(tok string) string  { return s.prefix + "access:" + tok }
func (s *Store) refreshKey(tok string) string { return s.prefix + "refresh:" + tok }

func (s *Store) Client(ctx context.Context, id string) (*storage.Client, error) {
	data, err := s.client.Get(ctx, s.clientKey(id)).Bytes()
	if err != nil {
		return nil, translateError(err)
	}
	var c storage.Client
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Mark(storage.ErrInvalidRecord, 0).Append(err.Error())
	}
	return &c, nil
}

func (s *Store) PutClient(ctx context.Context, c *storage.Client) error {
	if err := storage.ValidateClient(c); err != nil {
		return err
	}
	cp := *c
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	return translateError(s.client.Set(ctx, s.clientKey(c.ID), data, 0).Err())
}

func (s *Store) DeleteClient(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.clientKey(id)).Result()
	if err != nil {
		return translateError(err)
	}
	if n == 0 {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	return nil
}

func (s *Store) CreateCode(ctx context.Context, c *storage.AuthorizationCode) error {
	if err := storage.ValidateCode(c); err != nil {
		return err
	}
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	data, err := json.Marshal(storedCode{
		Code:        c.Code,
		ClientID:    c.ClientID,
		UserID:      c.UserID,
		RedirectURI: c.RedirectURI,
		Scopes:      c.Scopes,
		ExpiresAt:   c.ExpiresAt.UnixNano(),
		CreatedAt:   created.UnixNano(),
	})
	if err != nil {
		return errors.Wrap(err, 0)
	}

	ttl := time.Until(c.ExpiresAt) + codeGrace
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := s.client.SetNX(ctx, s.codeKey(c.Code), data, ttl).Result()
	if err != nil {
		return translateError(err)
	}
	if !ok {
		return errors.Mark(storage.ErrAlreadyExists, 0)
	}
	return nil
}

func (s *Store) ConsumeCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	data, err := s.client.GetDel(ctx, s.codeKey(code)).Bytes()
	if err != nil {
		return nil, translateError(err)
	}
	var sc storedCode
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, errors.Mark(storage.ErrInvalidRecord, 0).Append(err.Error())
	}
	return &storage.AuthorizationCode{
		Code:        sc.Code,
		ClientID:    sc.ClientID,
		UserID:      sc.UserID,
		RedirectURI: sc.RedirectURI,
		Scopes:      sc.Scopes,
		ExpiresAt:   fromNanos(sc.ExpiresAt),
		CreatedAt:   fromNanos(sc.CreatedAt),
	}, nil
}

// KEYS: token hash, access index, refresh index. ARGV: id, then hash fields.
var createTokenScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1], KEYS[2], KEYS[3]) > 0 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('SET', KEYS[2], ARGV[1])
redis.call('SET', KEYS[3], ARGV[1])
return 1
`)

// KEYS: old refresh index, new access index, new refresh index.
// ARGV: token key prefix, access key prefix, client id, new access, new
// refresh, expires_at, updated_at.
// Returns the updated hash, -1 when no pair matches, 0 on collision.
var rotateTokenScript = redis.NewScript(`
local id = redis.call('GET', KEYS[1])
if not id then
	return -1
end
local tkey = ARGV[1] .. id
if redis.call('HGET', tkey, 'client_id') ~= ARGV[3] then
	return -1
end
if redis.call('EXISTS', KEYS[2], KEYS[3]) > 0 then
	return 0
end
local oldAccess = redis.call('HGET', tkey, 'access_token')
redis.call('DEL', ARGV[2] .. oldAccess, KEYS[1])
redis.call('HSET', tkey, 'access_token', ARGV[4], 'refresh_token', ARGV[5], 'expires_at', ARGV[6], 'updated_at', ARGV[7])
redis.call('SET', KEYS[2], id)
redis.call('SET', KEYS[3], id)
return redis.call('HGETALL', tkey)
`)

func (s *Store) CreateToken(ctx context.Context, t *storage.TokenPair) error {
	if err := storage.ValidateToken(t); err != nil {
		return err
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	n, err := createTokenScript.Run(ctx, s.client,
		[]string{s.tokenKey(t.ID), s.accessKey(t.AccessToken), s.refreshKey(t.RefreshToken)},
		t.ID,
		"id", t.ID,
		"access_token", t.AccessToken,
		"refresh_token", t.RefreshToken,
		"client_id", t.ClientID,
		"user_id", t.UserID,
		"scopes", t.Scopes,
		"expires_at", t.ExpiresAt.UnixNano(),
		"created_at", created.UnixNano(),
		"updated_at", created.UnixNano(),
	).Int()
	if err != nil {
		return translateError(err)
	}
	if n == 0 {
		return errors.Mark(storage.ErrAlreadyExists, 0)
	}
	return nil
}

func (s *Store) RotateToken(ctx context.Context, refreshToken, clientID, newAccess, newRefresh string, expiresAt time.Time) (*storage.TokenPair, error) {
	if newAccess == "" || newRefresh == "" || newAccess == newRefresh {
		return nil, errors.Mark(storage.ErrInvalidRecord, 0).Append("rotation requires two distinct tokens")
	}
	res, err := rotateTokenScript.Run(ctx, s.client,
		[]string{s.refreshKey(refreshToken), s.accessKey(newAccess), s.refreshKey(newRefresh)},
		s.prefix+"token:", s.prefix+"access:", clientID, newAccess, newRefresh,
		expiresAt.UnixNano(), time.Now().UnixNano(),
	).Result()
	if err != nil {
		return nil, translateError(err)
	}

	switch v := res.(type) {
	case int64:
		if v == 0 {
			return nil, errors.Mark(storage.ErrAlreadyExists, 0)
		}
		return nil, errors.Mark(storage.ErrNotFound, 0)
	case []any:
		fields := make(map[string]string, len(v)/2)
		for i := 0; i+1 < len(v); i += 2 {
			k, _ := v[i].(string)
			val, _ := v[i+1].(string)
			fields[k] = val
		}
		return tokenFromHash(fields)
	}
	return nil, errors.Errorf("redis: unexpected rotate reply %T", res)
}

func (s *Store) TokenByAccess(ctx context.Context, accessToken string) (*storage.TokenPair, error) {
	id, err := s.client.Get(ctx, s.accessKey(accessToken)).Result()
	if err != nil {
		return nil, translateError(err)
	}
	fields, err := s.client.HGetAll(ctx, s.tokenKey(id)).Result()
	if err != nil {
		return nil, translateError(err)
	}
	t, err := tokenFromHash(fields)
	if err != nil {
		return nil, err
	}
	// A rotation may have landed between the two reads.
	if t.AccessToken != accessToken {
		return nil, errors.Mark(storage.ErrNotFound, 0)
	}
	return t, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func tokenFromHash(f map[string]string) (*storage.TokenPair, error) {
	if len(f) == 0 {
		return nil, errors.Mark(storage.ErrNotFound, 1)
	}
	userID, err := strconv.ParseInt(f["user_id"], 10, 64)
	if err != nil {
		return nil, errors.Mark(storage.ErrInvalidRecord, 1).Append("user_id: " + err.Error())
	}
	ts := func(k string) time.Time {
		n, _ := strconv.ParseInt(f[k], 10, 64)
		return fromNanos(n)
	}
	return &storage.TokenPair{
		ID:           f["id"],
		AccessToken:  f["access_token"],
		RefreshToken: f["refresh_token"],
		ClientID:     f["client_id"],
		UserID:       userID,
		Scopes:       f["scopes"],
		ExpiresAt:    ts("expires_at"),
		CreatedAt:    ts("created_at"),
		UpdatedAt:    ts("updated_at"),
	}, nil
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return errors.Mark(storage.ErrNotFound, 1)
	}
	return errors.Mark(storage.ErrUnavailable, 1).Append(err.Error())
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d == 0 {
		return fallback
	}
	return d
}
