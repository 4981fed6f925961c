package grantd

import (
	"net"
	"time"

	"github.com/lumenweb/grantd/internal/config"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Filename of the standard configuration file.
const ConfigFile = "grantd.yaml"

// ConfigKeyInfo contains metadata about a known configuration key.
type ConfigKeyInfo = config.KeyInfo

// Config is the global koanf instance holding application configuration.
//
// Sources are applied in order, later ones overriding earlier ones:
//  1. Auto-discovered grantd.yaml (in init())
//  2. Environment variables with the GD__ prefix (in init())
//  3. Files and maps loaded with LoadConfigFile and LoadConfigDefaults
//  4. Registered defaults, filled in for keys still unset when the server is
//     built
//
// Environment variables map as follows:
//   - GD__SERVER__PORT → server.port
//   - GD__OAUTH__CODE_TTL → oauth.codeTtl
//   - GD__STORAGE__REDIS__KEY_PREFIX → storage.redis.keyPrefix
var Config = koanf.New(".")

const (
	defaultPort = 8000
	defaultHost = "localhost"
)

func init() {
	registerCoreConfigKeys()

	if cfg := config.SearchForConfig(ConfigFile, "."); cfg != "" {
		if err := Config.Load(file.Provider(cfg), yaml.Parser()); err != nil {
			panic("error loading config: " + err.Error())
		}
	}

	if err := Config.Load(env.Provider(config.EnvPrefix, ".", config.TransformEnv), nil); err != nil {
		panic("error loading env config: " + err.Error())
	}
}

// RegisterConfigKeys documents configuration keys and their defaults. Plugins
// call it from init so that defaults exist before the server is built.
//
//	grantd.RegisterConfigKeys(grantd.ConfigKeyInfo{
//		Key:         "oauth.codeTtl",
//		Description: "Lifetime of authorization codes",
//		Type:        "duration",
//		Default:     "10m",
//	})
func RegisterConfigKeys(infos ...ConfigKeyInfo) {
	config.RegisterKeys(infos...)
}

// RegisterDeprecatedKey records that oldKey has been replaced by newKey.
func RegisterDeprecatedKey(oldKey, newKey string) {
	config.RegisterDeprecatedKey(oldKey, newKey)
}

// ConfigKeys returns metadata for every registered key, sorted by key.
func ConfigKeys() []ConfigKeyInfo {
	keys := config.Keys()
	out := make([]ConfigKeyInfo, 0, len(keys))
	for _, k := range keys {
		info, _ := config.Lookup(k)
		out = append(out, info)
	}
	return out
}

// LoadConfigFile loads additional configuration from a YAML file.
func LoadConfigFile(path string) {
	if err := Config.Load(file.Provider(path), yaml.Parser()); err != nil {
		panic("error loading config file '" + path + "': " + err.Error())
	}
}

// LoadConfigDefaults loads values into Config, e.g. from tests or an embedding
// application.
//
//	grantd.LoadConfigDefaults(map[string]any{
//		"storage.driver": "sqlite",
//		"storage.dsn":    "file:grantd.db",
//	})
func LoadConfigDefaults(defaults map[string]any) {
	if err := Config.Load(confmap.Provider(defaults, "."), nil); err != nil {
		panic("error loading config defaults: " + err.Error())
	}
}

// ConfigWarnings lists loaded keys that are unknown or deprecated, with
// suggestions for likely typos.
func ConfigWarnings() string {
	return config.FormatWarnings(config.Validate(Config))
}

func ConfigString(key string) string { return Config.String(key) }

func ConfigInt(key string) int { return Config.Int(key) }

func ConfigBool(key string) bool { return Config.Bool(key) }

func ConfigDuration(key string) time.Duration { return Config.Duration(key) }

func ConfigStrings(key string) []string { return Config.Strings(key) }

func ConfigExists(key string) bool { return Config.Exists(key) }

func registerCoreConfigKeys() {
	config.RegisterKeys(
		ConfigKeyInfo{
			Key:         "name",
			Description: "User-facing name of the service, shown on the consent page",
			Type:        "string",
			Default:     "grantd",
		},
		ConfigKeyInfo{
			Key:         "address",
			Description: "External address of the service, used as token issuer",
			Type:        "string",
			Default:     "http://" + net.JoinHostPort(defaultHost, "8000"),
		},
		ConfigKeyInfo{
			Key:         "server.host",
			Description: "Host to bind the server to",
			Type:        "string",
			Default:     defaultHost,
		},
		ConfigKeyInfo{
			Key:         "server.port",
			Description: "Port to bind the server to",
			Type:        "int",
			Default:     defaultPort,
		},
		ConfigKeyInfo{
			Key:         "server.csrfSigningKey",
			Description: "Key used to sign consent form CSRF tokens",
			Type:        "string",
		},
		ConfigKeyInfo{
			Key:         "server.tls.certFile",
			Description: "Path to TLS certificate file",
			Type:        "string",
		},
		ConfigKeyInfo{
			Key:         "server.tls.keyFile",
			Description: "Path to TLS key file",
			Type:        "string",
		},
		ConfigKeyInfo{
			Key:         "server.security.xFramesOptions",
			Description: "X-Frame-Options header value",
			Type:        "string",
			Default:     string(XFramesOptionsDeny),
		},
		ConfigKeyInfo{
			Key:         "server.security.hstsExpiration",
			Description: "HSTS max-age duration",
			Type:        "duration",
		},
		ConfigKeyInfo{
			Key:         "server.security.hstsIncludeSubdomains",
			Description: "Include subdomains in HSTS",
			Type:        "bool",
		},
		ConfigKeyInfo{
			Key:         "server.security.hstsPreload",
			Description: "Enable HSTS preload",
			Type:        "bool",
		},
		ConfigKeyInfo{
			Key:         "logging.format",
			Description: "Log output, 'dev' for console or 'json'",
			Type:        "string",
			Default:     "dev",
		},
	)
}
