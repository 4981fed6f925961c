// Package storage defines the records and store interfaces that back the
// authorization server: the client registry, single-use authorization codes,
// and rotating token pairs.
//
// Backends live in sub-packages (memory, sqlite, postgres, redis) and are
// checked against the shared suite in storagetests:
//
//	func TestStore(t *testing.T) {
//		storagetests.Run(t, func(t *testing.T) storage.Store {
//			return memory.New()
//		})
//	}
package storage

import (
	"context"
	"time"

	"github.com/lumenweb/grantd/errors"
	"google.golang.org/grpc/codes"
)

var (
	// Returned when a record does not exist, has already been consumed, or
	// does not belong to the caller.
	ErrNotFound = errors.NewC("record not found", codes.NotFound)

	// Returned when a record collides with an existing key.
	ErrAlreadyExists = errors.NewC("record already exists", codes.AlreadyExists)

	// Returned when a record is missing required fields.
	ErrInvalidRecord = errors.NewC("invalid record", codes.InvalidArgument)

	// Wraps driver failures. The public message never includes driver detail.
	ErrUnavailable = errors.NewC("storage unavailable", codes.Unavailable).
			WithPublicMessage("temporary storage failure")
)

// Client is a registered third-party application.
type Client struct {
	ID          string    `json:"id"`
	Secret      string    `json:"secret"`
	Name        string    `json:"name"`
	RedirectURI string    `json:"redirect_uri"`
	Scopes      string    `json:"scopes"`
	CreatedAt   time.Time `json:"created_at"`
}

// AuthorizationCode is a short-lived, single-use proof of consent.
type AuthorizationCode struct {
	Code        string
	ClientID    string
	UserID      int64
	RedirectURI string
	Scopes      string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Expired reports whether the code is no longer exchangeable at now.
func (c *AuthorizationCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// TokenPair is one issuance lineage. Rotation rewrites the tokens in place.
type TokenPair struct {
	ID           string
	AccessToken  string
	RefreshToken string
	ClientID     string
	UserID       int64
	Scopes       string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired reports whether the access token is no longer valid at now.
func (t *TokenPair) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ClientRegistry resolves client ids. Implementations must be safe for
// concurrent use.
type ClientRegistry interface {
	Client(ctx context.Context, id string) (*Client, error)
}

// ClientStore is a ClientRegistry that can also be seeded.
type ClientStore interface {
	ClientRegistry

	// PutClient inserts or replaces a client.
	PutClient(ctx context.Context, c *Client) error

	// DeleteClient removes a client. Missing clients report ErrNotFound.
	DeleteClient(ctx context.Context, id string) error
}

// CodeStore persists authorization codes.
type CodeStore interface {
	// CreateCode stores a new code. It never overwrites: a colliding code
	// reports ErrAlreadyExists.
	CreateCode(ctx context.Context, c *AuthorizationCode) error

	// ConsumeCode atomically removes and returns a code. Of any number of
	// concurrent callers, exactly one receives the record and the others
	// receive ErrNotFound. Expired codes are still returned and removed; the
	// caller decides what expiry means.
	ConsumeCode(ctx context.Context, code string) (*AuthorizationCode, error)
}

// TokenStore persists token pairs.
type TokenStore interface {
	// CreateToken stores a new pair. Colliding tokens report ErrAlreadyExists.
	CreateToken(ctx context.Context, t *TokenPair) error

	// RotateToken finds the pair holding refreshToken for clientID and, in one
	// atomic step, replaces both tokens and the expiry. The old tokens stop
	// resolving at the same instant. Of any number of concurrent callers with
	// the same refresh token, exactly one succeeds and the rest receive
	// ErrNotFound, as does a caller presenting another client's token.
	RotateToken(ctx context.Context, refreshToken, clientID, newAccess, newRefresh string, expiresAt time.Time) (*TokenPair, error)

	// TokenByAccess returns the pair currently holding accessToken, expired or
	// not.
	TokenByAccess(ctx context.Context, accessToken string) (*TokenPair, error)
}

// Purger is implemented by stores that need expired codes swept out.
// Stores with native expiry (redis) do not implement it.
type Purger interface {
	PurgeExpiredCodes(ctx context.Context, now time.Time) (int64, error)
}

// Store is the full set of capabilities a backend provides.
type Store interface {
	ClientStore
	CodeStore
	TokenStore
	Close() error
}

// ValidateCode checks that a code record can be persisted.
func ValidateCode(c *AuthorizationCode) error {
	if c == nil || c.Code == "" || c.ClientID == "" || c.ExpiresAt.IsZero() {
		return errors.Mark(ErrInvalidRecord, 1).Append("code, client id, and expiry are required")
	}
	return nil
}

// ValidateToken checks that a token pair can be persisted.
func ValidateToken(t *TokenPair) error {
	if t == nil || t.ID == "" || t.AccessToken == "" || t.RefreshToken == "" || t.ClientID == "" {
		return errors.Mark(ErrInvalidRecord, 1).Append("id, tokens, and client id are required")
	}
	if t.AccessToken == t.RefreshToken {
		return errors.Mark(ErrInvalidRecord, 1).Append("access and refresh tokens must differ")
	}
	return nil
}

// ValidateClient checks that a client can be persisted.
func ValidateClient(c *Client) error {
	if c == nil || c.ID == "" || c.RedirectURI == "" {
		return errors.Mark(ErrInvalidRecord, 1).Append("client id and redirect uri are required")
	}
	return nil
}
