package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/lumenweb/grantd"
	"github.com/lumenweb/grantd/logging"
)

// PluginName can be used to query the auth plugin.
const PluginName = "auth"

// AuthOption customizes the auth plugin.
type AuthOption func(*AuthPlugin)

// WithSigningKey overrides `auth.signingKey`.
func WithSigningKey(signingKey string) AuthOption {
	return func(p *AuthPlugin) {
		p.signingKey = []byte(signingKey)
	}
}

// WithExpiration overrides `auth.expiration`.
func WithExpiration(d time.Duration) AuthOption {
	return func(p *AuthPlugin) {
		p.expiration = d
	}
}

// WithLoginURL overrides `auth.loginUrl`.
func WithLoginURL(u string) AuthOption {
	return func(p *AuthPlugin) {
		p.loginURL = u
	}
}

// Plugin returns the auth plugin. Settings not given as options are read from
// config when the server starts.
func Plugin(opts ...AuthOption) *AuthPlugin {
	p := &AuthPlugin{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AuthPlugin issues and verifies end-user identity tokens.
type AuthPlugin struct {
	signingKey []byte
	expiration time.Duration
	loginURL   string
}

// From grantd.Plugin.
func (ap *AuthPlugin) Name() string {
	return PluginName
}

// From grantd.InitializablePlugin.
func (ap *AuthPlugin) Init(ctx context.Context, r *grantd.Registry) error {
	if len(ap.signingKey) == 0 {
		ap.signingKey = []byte(grantd.ConfigString("auth.signingKey"))
	}
	if len(ap.signingKey) == 0 {
		ap.signingKey = []byte(randomSigningKey())
		logging.Warnw(ctx, "auth: using a random signing key, identity tokens will not survive a restart",
			"config_key", "auth.signingKey")
	}
	if ap.expiration <= 0 {
		ap.expiration = grantd.ConfigDuration("auth.expiration")
	}
	if ap.expiration <= 0 {
		ap.expiration = defaultTokenExpiration
	}
	if ap.loginURL == "" {
		ap.loginURL = grantd.ConfigString("auth.loginUrl")
	}
	return nil
}

// LoginURL is where unauthenticated users should be sent, or "" if none is
// configured.
func (ap *AuthPlugin) LoginURL() string {
	return ap.loginURL
}

func randomSigningKey() string {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic("failed to generate random signing key: " + err.Error())
	}
	return hex.EncodeToString(key)
}
