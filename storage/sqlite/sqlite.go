// Package sqlite provides a SQLite backed storage.Store.
//
//	store, err := sqlite.New(ctx, "file:grantd.db?_busy_timeout=5000")
//	store, err := sqlite.New(ctx, ":memory:")
//
// Consume and rotate are single DELETE/UPDATE ... RETURNING statements, so
// each is atomic without an explicit transaction. Timestamps are stored as
// unix nanoseconds.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"time"

	"github.com/lumenweb/grantd/errors"
	"github.com/lumenweb/grantd/storage"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// New opens the database at dsn and applies pending migrations.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.WrapPrefix(err, "sqlite: open", 0)
	}

	// SQLite serializes writers anyway, and ":memory:" databases are per
	// connection.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return errors.Wrap(err, 0)
	}
	provider, err := goose.NewProvider(database.DialectSQLite3, db, fsys)
	if err != nil {
		return errors.WrapPrefix(err, "sqlite: migrations", 0)
	}
	if _, err := provider.Up(ctx); err != nil {
		return errors.WrapPrefix(err, "sqlite: migrations", 0)
	}
	return nil
}

// Store implements storage.Store.
type Store struct {
	db *sql.DB
}

var (
	_ storage.Store  = (*Store)(nil)
	_ storage.Purger = (*Store)(nil)
)

const tokenColumns = "id, access_token, refresh_token, client_id, user_id, scopes, expires_at, created_at, updated_at"

func (s *Store) Client(ctx context.Context, id string) (*storage.Client, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, secret, name, redirect_uri, scopes, created_at FROM oauth_clients WHERE id = ?", id)
	var c storage.Client
	var created int64
	if err := row.Scan(&c.ID, &c.Secret, &c.Name, &c.RedirectURI, &c.Scopes, &created); err != nil {
		return nil, translateError(err)
	}
	c.CreatedAt = fromNanos(created)
	return &c, nil
}

func (s *Store) PutClient(ctx context.Context, c *storage.Client) error {
	if err := storage.ValidateClient(c); err != nil {
		return err
	}
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_clients (id, secret, name, redirect_uri, scopes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			secret = excluded.secret,
			name = excluded.name,
			redirect_uri = excluded.redirect_uri,
			scopes = excluded.scopes`,
		c.ID, c.Secret, c.Name, c.RedirectURI, c.Scopes, created.UnixNano())
	return translateError(err)
}

func (s *Store) DeleteClient(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM oauth_clients WHERE id = ?", id)
	if err != nil {
		return translateError(err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	return nil
}

func (s *Store) CreateCode(ctx context.Context, c *storage.AuthorizationCode) error {
	if err := storage.ValidateCode(c); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_codes (code, client_id, user_id, redirect_uri, scopes, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.Code, c.ClientID, c.UserID, c.RedirectURI, c.Scopes, c.ExpiresAt.UnixNano(), nanosOrNow(c.CreatedAt))
	return translateError(err)
}

func (s *Store) ConsumeCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM oauth_codes WHERE code = ?
		RETURNING code, client_id, user_id, redirect_uri, scopes, expires_at, created_at`, code)
	var c storage.AuthorizationCode
	var expires, created int64
	if err := row.Scan(&c.Code, &c.ClientID, &c.UserID, &c.RedirectURI, &c.Scopes, &expires, &created); err != nil {
		return nil, translateError(err)
	}
	c.ExpiresAt = fromNanos(expires)
	c.CreatedAt = fromNanos(created)
	return &c, nil
}

func (s *Store) PurgeExpiredCodes(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM oauth_codes WHERE expires_at <= ?", now.UnixNano())
	if err != nil {
		return 0, translateError(err)
	}
	n, err := res.RowsAffected()
	return n, errors.MaybeWrap(err, 0)
}

func (s *Store) CreateToken(ctx context.Context, t *storage.TokenPair) error {
	if err := storage.ValidateToken(t); err != nil {
		return err
	}
	created := nanosOrNow(t.CreatedAt)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_tokens (`+tokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AccessToken, t.RefreshToken, t.ClientID, t.UserID, t.Scopes,
		t.ExpiresAt.UnixNano(), created, created)
	return translateError(err)
}

func (s *Store) RotateToken(ctx context.Context, refreshToken, clientID, newAccess, newRefresh string, expiresAt time.Time) (*storage.TokenPair, error) {
	if newAccess == "" || newRefresh == "" || newAccess == newRefresh {
		return nil, errors.Mark(storage.ErrInvalidRecord, 0).Append("rotation requires two distinct tokens")
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE oauth_tokens
		SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ?
		WHERE refresh_token = ? AND client_id = ?
		RETURNING `+tokenColumns,
		newAccess, newRefresh, expiresAt.UnixNano(), time.Now().UnixNano(), refreshToken, clientID)
	return scanToken(row)
}

func (s *Store) TokenByAccess(ctx context.Context, accessToken string) (*storage.TokenPair, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+tokenColumns+" FROM oauth_tokens WHERE access_token = ?", accessToken)
	return scanToken(row)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func scanToken(row *sql.Row) (*storage.TokenPair, error) {
	var t storage.TokenPair
	var expires, created, updated int64
	err := row.Scan(&t.ID, &t.AccessToken, &t.RefreshToken, &t.ClientID, &t.UserID, &t.Scopes, &expires, &created, &updated)
	if err != nil {
		return nil, translateError(err)
	}
	t.ExpiresAt = fromNanos(expires)
	t.CreatedAt = fromNanos(created)
	t.UpdatedAt = fromNanos(updated)
	return &t, nil
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Mark(storage.ErrNotFound, 1)
	}
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint {
		return errors.Mark(storage.ErrAlreadyExists, 1).Append(sqlErr.Error())
	}
	return errors.Mark(storage.ErrUnavailable, 1).Append(err.Error())
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nanosOrNow(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UnixNano()
	}
	return t.UnixNano()
}
