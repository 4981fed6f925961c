package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/iancoleman/strcase"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables that are loaded into config.
const EnvPrefix = "GD__"

var defaultsLoaded sync.Once

// EnsureDefaultsLoaded sets registered defaults for keys that are not already
// present. It runs once per process, after plugins have registered their keys.
func EnsureDefaultsLoaded(k *koanf.Koanf) {
	defaultsLoaded.Do(func() {
		for key, val := range Defaults() {
			if !k.Exists(key) {
				_ = k.Set(key, val)
			}
		}
	})
}

// SearchForConfig looks for filename in startDir and each of its parents.
func SearchForConfig(filename string, startDir string) string {
	d, err := filepath.Abs(startDir)
	if err != nil {
		return ""
	}
	for {
		p := filepath.Join(d, filename)
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(d)
		if parent == d {
			return ""
		}
		d = parent
	}
}

// TransformEnv maps GD__OAUTH__ACCESS_TOKEN_TTL to oauth.accessTokenTtl.
// Double underscores separate segments and single underscores mark words.
func TransformEnv(s string) string {
	segments := strings.Split(strings.TrimPrefix(s, EnvPrefix), "__")
	for i, seg := range segments {
		segments[i] = strcase.ToLowerCamel(strings.ToLower(seg))
	}
	return strings.Join(segments, ".")
}
