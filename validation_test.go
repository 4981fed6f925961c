package grantd

import (
	"testing"
	"time"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withConfig swaps the global Config for one holding values.
func withConfig(t *testing.T, values map[string]any) {
	t.Helper()
	original := Config
	t.Cleanup(func() { Config = original })

	Config = koanf.New(".")
	require.NoError(t, Config.Load(confmap.Provider(values, "."), nil))
}

func TestValidateIntRange(t *testing.T) {
	assert.NoError(t, ValidateIntRange(5, 1, 10))
	assert.NoError(t, ValidateIntRange(1, 1, 10))
	assert.NoError(t, ValidateIntRange(10, 1, 10))
	assert.Error(t, ValidateIntRange(0, 1, 10))
	assert.Error(t, ValidateIntRange(11, 1, 10))
}

func TestValidatePort(t *testing.T) {
	assert.NoError(t, ValidatePort(8000))
	assert.Error(t, ValidatePort(0))
	assert.Error(t, ValidatePort(70000))
}

func TestValidateDurations(t *testing.T) {
	assert.NoError(t, ValidatePositiveDuration(time.Minute))
	assert.Error(t, ValidatePositiveDuration(0))
	assert.NoError(t, ValidateNonNegativeDuration(0))
	assert.Error(t, ValidateNonNegativeDuration(-time.Second))
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("https://auth.example.com"))
	assert.Error(t, ValidateURL(""))
	assert.Error(t, ValidateURL("auth.example.com"))
	assert.Error(t, ValidateURL("https://"))
}

func TestValidateOneOf(t *testing.T) {
	assert.NoError(t, ValidateOneOf("redis", "memory", "redis"))
	err := ValidateOneOf("mysql", "memory", "redis")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory, redis")
}

func TestValidateConfig(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		withConfig(t, map[string]any{
			"server.port":               8080,
			"address":                   "https://auth.example.com",
			"storage.driver":            "postgres",
			"storage.connectRetries":    5,
			"oauth.codeTtl":             "10m",
			"oauth.accessTokenTtl":      "1h",
			"oauth.purgeInterval":       "0s",
			"oauth.clientSecretHashing": "bcrypt",
		})
		assert.Empty(t, ValidateConfig())
	})

	t.Run("invalid port", func(t *testing.T) {
		withConfig(t, map[string]any{"server.port": 70000})
		errs := ValidateConfig()
		require.Len(t, errs, 1)
		assert.Equal(t, "server.port", errs[0].Key)
		assert.Contains(t, errs[0].Message, "must be between 1 and 65535")
	})

	t.Run("unknown driver", func(t *testing.T) {
		withConfig(t, map[string]any{"storage.driver": "mysql"})
		errs := ValidateConfig()
		require.Len(t, errs, 1)
		assert.Equal(t, "storage.driver", errs[0].Key)
	})

	t.Run("aggregates", func(t *testing.T) {
		withConfig(t, map[string]any{
			"server.port":   0,
			"oauth.codeTtl": "0s",
			"address":       "localhost",
		})
		assert.Len(t, ValidateConfig(), 3)
	})
}

func TestFormatValidationErrors(t *testing.T) {
	assert.Empty(t, FormatValidationErrors(nil))

	result := FormatValidationErrors([]ValidationError{
		{Key: "server.port", Message: "must be between 1 and 65535, got: 70000"},
		{Key: "storage.driver", Message: "must be one of memory"},
	})
	assert.Contains(t, result, "Configuration validation failed")
	assert.Contains(t, result, "server.port: must be between 1 and 65535, got: 70000")
	assert.Contains(t, result, "storage.driver")
	assert.Contains(t, result, "Fix these errors")
}
