package grantd

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/lumenweb/grantd/errors"
)

// ValidateIntRange validates that a value is within the given range (inclusive).
func ValidateIntRange(value, minVal, maxVal int) error {
	if value < minVal || value > maxVal {
		return errors.Errorf("must be between %d and %d, got: %d", minVal, maxVal, value)
	}
	return nil
}

// ValidatePort validates that a port number is valid (1-65535).
func ValidatePort(port int) error {
	return ValidateIntRange(port, 1, 65535)
}

// ValidatePositiveDuration validates that a duration is positive (> 0).
func ValidatePositiveDuration(value time.Duration) error {
	if value <= 0 {
		return errors.Errorf("must be positive, got: %s", value)
	}
	return nil
}

// ValidateNonNegativeDuration validates that a duration is non-negative (>= 0).
func ValidateNonNegativeDuration(value time.Duration) error {
	if value < 0 {
		return errors.Errorf("must be non-negative, got: %s", value)
	}
	return nil
}

// ValidateURL validates that a string is an absolute URL.
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return errors.New("URL cannot be empty")
	}
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return errors.WrapPrefix(err, "invalid URL", 0)
	}
	if parsed.Scheme == "" {
		return errors.New("URL must have a scheme (http:// or https://)")
	}
	if parsed.Host == "" {
		return errors.New("URL must have a host")
	}
	return nil
}

// ValidateOneOf validates that value is one of allowed.
func ValidateOneOf(value string, allowed ...string) error {
	if !slices.Contains(allowed, value) {
		return errors.Errorf("must be one of %s, got: %q", strings.Join(allowed, ", "), value)
	}
	return nil
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Key     string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Message)
}

var configChecks = []struct {
	key   string
	check func(key string) error
}{
	{"server.port", func(k string) error { return ValidatePort(Config.Int(k)) }},
	{"address", func(k string) error { return ValidateURL(Config.String(k)) }},
	{"server.security.hstsExpiration", func(k string) error { return ValidateNonNegativeDuration(Config.Duration(k)) }},
	{"storage.driver", func(k string) error {
		return ValidateOneOf(Config.String(k), "memory", "sqlite", "postgres", "redis")
	}},
	{"storage.connectRetries", func(k string) error { return ValidateIntRange(Config.Int(k), 1, 100) }},
	{"oauth.codeTtl", func(k string) error { return ValidatePositiveDuration(Config.Duration(k)) }},
	{"oauth.accessTokenTtl", func(k string) error { return ValidatePositiveDuration(Config.Duration(k)) }},
	{"oauth.purgeInterval", func(k string) error { return ValidateNonNegativeDuration(Config.Duration(k)) }},
	{"oauth.clientSecretHashing", func(k string) error {
		return ValidateOneOf(Config.String(k), "none", "bcrypt")
	}},
	{"auth.loginUrl", func(k string) error { return ValidateURL(Config.String(k)) }},
}

// ValidateConfig checks the configured values that would otherwise fail late
// or silently. Keys that are not set are skipped.
func ValidateConfig() []ValidationError {
	var out []ValidationError
	for _, c := range configChecks {
		if !Config.Exists(c.key) {
			continue
		}
		if err := c.check(c.key); err != nil {
			out = append(out, ValidationError{Key: c.key, Message: err.Error()})
		}
	}
	return out
}

// FormatValidationErrors formats validation errors into a readable message.
func FormatValidationErrors(errs []ValidationError) string {
	if len(errs) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n")
	for _, err := range errs {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	sb.WriteString("\nFix these errors in grantd.yaml or GD__ environment variables and try again.")
	return sb.String()
}
