// Package oauth serves the authorization server over HTTP.
//
// It mounts the consent page at /oauth/authorize, the token endpoint at
// /oauth/token, RFC 8414 metadata, and Prometheus metrics. The protocol itself
// lives in the top level oauth package; this plugin wires it to storage, to
// the end user's identity, and to config:
//
//	s := grantd.New(
//		grantd.WithPlugin(storage.Plugin()),
//		grantd.WithPlugin(auth.Plugin()),
//		grantd.WithPlugin(oauth.Plugin(
//			oauth.WithClient(oauth.StaticClient{
//				ID:          "acme",
//				Secret:      "s3cret",
//				Name:        "Acme Reader",
//				RedirectURI: "https://acme.example/callback",
//			}),
//		)),
//	)
//
// Resource servers protect their own routes with RequireToken.
package oauth

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/lumenweb/grantd"
	"github.com/lumenweb/grantd/errors"
	"github.com/lumenweb/grantd/logging"
	"github.com/lumenweb/grantd/oauth"
	"github.com/lumenweb/grantd/plugins/auth"
	storageplugin "github.com/lumenweb/grantd/plugins/storage"
	"github.com/lumenweb/grantd/storage"

	"github.com/go-chi/chi/v5"
	"google.golang.org/grpc/codes"
)

// PluginName can be used to query the oauth plugin.
const PluginName = "oauth"

func init() {
	grantd.RegisterConfigKeys(
		grantd.ConfigKeyInfo{
			Key:         "oauth.codeTtl",
			Description: "Authorization code lifetime",
			Type:        "duration",
			Default:     "10m",
		},
		grantd.ConfigKeyInfo{
			Key:         "oauth.accessTokenTtl",
			Description: "Access token lifetime",
			Type:        "duration",
			Default:     "1h",
		},
		grantd.ConfigKeyInfo{
			Key:         "oauth.defaultScope",
			Description: "Scope granted when a request names none",
			Type:        "string",
			Default:     oauth.DefaultScope,
		},
		grantd.ConfigKeyInfo{
			Key:         "oauth.enforceClientScopes",
			Description: "Reject requests for scopes outside the client's registered set",
			Type:        "bool",
			Default:     false,
		},
		grantd.ConfigKeyInfo{
			Key:         "oauth.clientSecretHashing",
			Description: "How client secrets are stored: none or bcrypt",
			Type:        "string",
			Default:     "none",
		},
		grantd.ConfigKeyInfo{
			Key:         "oauth.purgeInterval",
			Description: "How often expired codes are deleted, 0 disables",
			Type:        "duration",
			Default:     "5m",
		},
		grantd.ConfigKeyInfo{
			Key:         "oauth.clients",
			Description: "Clients seeded into the registry at startup",
			Type:        "[]object",
		},
	)
}

// ErrMisconfigured is returned from Init when config cannot be applied.
var ErrMisconfigured = errors.NewC("oauth: invalid configuration", codes.FailedPrecondition)

// StaticClient is a client registered from config or code. Secret is the
// plaintext secret; it is hashed on the way in when bcrypt hashing is on.
type StaticClient struct {
	ID          string `koanf:"id"`
	Secret      string `koanf:"secret"`
	Name        string `koanf:"name"`
	RedirectURI string `koanf:"redirectUri"`
	Scopes      string `koanf:"scopes"`
}

// OAuthOption customizes the oauth plugin.
type OAuthOption func(*OAuthPlugin)

// WithClient seeds a client in addition to those in `oauth.clients`.
func WithClient(c StaticClient) OAuthOption {
	return func(p *OAuthPlugin) {
		p.staticClients = append(p.staticClients, c)
	}
}

// WithServiceOptions passes options through to oauth.NewService. They are
// applied after those derived from config.
func WithServiceOptions(opts ...oauth.Option) OAuthOption {
	return func(p *OAuthPlugin) {
		p.serviceOpts = append(p.serviceOpts, opts...)
	}
}

// WithCSRFSigningKey overrides `server.csrfSigningKey`.
func WithCSRFSigningKey(key string) OAuthOption {
	return func(p *OAuthPlugin) {
		p.csrfKey = []byte(key)
	}
}

// WithPurgeInterval overrides `oauth.purgeInterval`. Negative disables
// purging.
func WithPurgeInterval(d time.Duration) OAuthOption {
	return func(p *OAuthPlugin) {
		p.purgeInterval = d
	}
}

// Plugin returns the oauth plugin.
func Plugin(opts ...OAuthOption) *OAuthPlugin {
	p := &OAuthPlugin{metrics: newMetrics()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OAuthPlugin serves the authorization and token endpoints.
type OAuthPlugin struct {
	service *oauth.Service
	store   storage.Store
	auth    *auth.AuthPlugin
	metrics *metrics

	staticClients []StaticClient
	serviceOpts   []oauth.Option
	csrfKey       []byte
	purgeInterval time.Duration
	now           func() time.Time
}

// From grantd.Plugin.
func (p *OAuthPlugin) Name() string {
	return PluginName
}

// From grantd.DependentPlugin.
func (p *OAuthPlugin) Deps() []string {
	return []string{storageplugin.PluginName, auth.PluginName}
}

// From grantd.OptionProvider.
func (p *OAuthPlugin) ServerOptions() []grantd.ServerOption {
	return []grantd.ServerOption{
		grantd.WithRoutes(p.Routes),
	}
}

// Routes mounts the plugin's endpoints.
func (p *OAuthPlugin) Routes(r chi.Router) {
	r.Get("/oauth/authorize", p.showConsent)
	r.Post("/oauth/authorize", p.decide)
	r.Post("/oauth/token", p.token)
	r.Get("/.well-known/oauth-authorization-server", p.serverMetadata)
	r.Handle("/metrics", p.metrics.handler())
}

// From grantd.InitializablePlugin.
func (p *OAuthPlugin) Init(ctx context.Context, r *grantd.Registry) error {
	sp, ok := r.Get(storageplugin.PluginName).(*storageplugin.StoragePlugin)
	if !ok || sp.Store == nil {
		return errors.Mark(ErrMisconfigured, 0).Append("storage plugin is not available")
	}
	ap, ok := r.Get(auth.PluginName).(*auth.AuthPlugin)
	if !ok {
		return errors.Mark(ErrMisconfigured, 0).Append("auth plugin is not available")
	}
	return p.init(ctx, sp.Store, ap)
}

func (p *OAuthPlugin) init(ctx context.Context, store storage.Store, ap *auth.AuthPlugin) error {
	p.store = store
	p.auth = ap
	if p.now == nil {
		p.now = time.Now
	}

	comparer, ok := oauth.ComparerByName(grantd.ConfigString("oauth.clientSecretHashing"))
	if !ok {
		return errors.Mark(ErrMisconfigured, 0).Append("unknown oauth.clientSecretHashing")
	}

	opts := []oauth.Option{
		oauth.WithCodeTTL(grantd.ConfigDuration("oauth.codeTtl")),
		oauth.WithAccessTokenTTL(grantd.ConfigDuration("oauth.accessTokenTtl")),
		oauth.WithDefaultScope(grantd.ConfigString("oauth.defaultScope")),
		oauth.WithClientScopeEnforcement(grantd.ConfigBool("oauth.enforceClientScopes")),
		oauth.WithSecretComparer(comparer),
		oauth.WithClock(func() time.Time { return p.now() }),
	}
	p.service = oauth.NewService(store, store, store, append(opts, p.serviceOpts...)...)

	if len(p.csrfKey) == 0 {
		p.csrfKey = []byte(grantd.ConfigString("server.csrfSigningKey"))
	}
	if len(p.csrfKey) == 0 {
		p.csrfKey = make([]byte, 32)
		if _, err := rand.Read(p.csrfKey); err != nil {
			return errors.WrapPrefix(err, "oauth: generating csrf key", 0)
		}
		logging.Warnw(ctx, "oauth: using a random csrf key, open consent forms will not survive a restart",
			"config_key", "server.csrfSigningKey")
	}

	if p.purgeInterval == 0 {
		p.purgeInterval = grantd.ConfigDuration("oauth.purgeInterval")
	}

	var fromConfig []StaticClient
	if grantd.ConfigExists("oauth.clients") {
		if err := grantd.Config.Unmarshal("oauth.clients", &fromConfig); err != nil {
			return errors.Mark(ErrMisconfigured, 0).Append("oauth.clients: " + err.Error())
		}
	}
	return p.seedClients(ctx, comparer, append(fromConfig, p.staticClients...))
}

// seedClients upserts static clients so restarts pick up config changes.
func (p *OAuthPlugin) seedClients(ctx context.Context, comparer oauth.SecretComparer, clients []StaticClient) error {
	for _, c := range clients {
		secret, err := comparer.Generate([]byte(c.Secret))
		if err != nil {
			return errors.WrapPrefix(err, "oauth: hashing secret for "+c.ID, 0)
		}
		err = p.store.PutClient(ctx, &storage.Client{
			ID:          c.ID,
			Secret:      string(secret),
			Name:        c.Name,
			RedirectURI: c.RedirectURI,
			Scopes:      c.Scopes,
			CreatedAt:   p.now(),
		})
		if err != nil {
			return errors.WrapPrefix(err, "oauth: registering client "+c.ID, 0)
		}
		logging.Infow(ctx, "oauth: registered client", "oauth.client_id", c.ID)
	}
	return nil
}

// Service returns the protocol service. Nil until the server has started.
func (p *OAuthPlugin) Service() *oauth.Service {
	return p.service
}
