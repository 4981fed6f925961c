// Package auth verifies the end user behind a consent request.
//
// Logging users in is the job of the surrounding site. Once it has done so it
// issues an identity token, a JWT whose subject is the decimal user id, and
// hands it to the browser in the `gd-id` cookie. Scripts and tests may send the
// same token as a bearer token instead:
//
//	token, _ := authPlugin.IdentityToken(ctx, 42)
//	http.SetCookie(w, authPlugin.IdentityCookie(ctx, token))
//
// The oauth plugin calls IdentityFromRequest before showing the consent page.
package auth

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lumenweb/grantd"
	"github.com/lumenweb/grantd/errors"
	"google.golang.org/grpc/codes"
)

func init() {
	grantd.RegisterConfigKeys(
		grantd.ConfigKeyInfo{
			Key:         "auth.signingKey",
			Description: "HS256 key for end-user identity tokens",
			Type:        "string",
		},
		grantd.ConfigKeyInfo{
			Key:         "auth.expiration",
			Description: "How long identity tokens issued by IdentityToken are valid",
			Type:        "duration",
			Default:     "24h",
		},
		grantd.ConfigKeyInfo{
			Key:         "auth.loginUrl",
			Description: "Login page for unauthenticated consent requests",
			Type:        "string",
		},
	)
}

var (
	// No identity was found on the request.
	ErrNotFound = errors.NewC("identity not found", codes.Unauthenticated)

	// The token was malformed, wrongly signed, or carried bad claims.
	ErrInvalidToken = errors.NewC("identity token is invalid", codes.Unauthenticated)

	// Invalid authorization header.
	ErrInvalidHeader = errors.NewC("bad authorization header", codes.InvalidArgument)

	// Allows for time to be stubbed in tests.
	timeFunc = time.Now
)

// Leeway for JWT expiration checks.
const jwtLeeway = 5 * time.Second

const defaultTokenExpiration = 24 * time.Hour

// Claims carried by an identity token.
type Claims struct {
	jwt.RegisteredClaims
	AuthTime *jwt.NumericDate `json:"auth_time,omitempty"`
}

// Validate checks that the subject is a user id.
func (c *Claims) Validate() error {
	if c.Subject == "" {
		return errors.Mark(ErrInvalidToken, 0).Append("missing subject")
	}
	if _, err := strconv.ParseInt(c.Subject, 10, 64); err != nil {
		return errors.Mark(ErrInvalidToken, 0).Append("subject is not a user id")
	}
	return nil
}
