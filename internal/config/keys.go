// Package config holds the registry of known configuration keys and the
// helpers used to load and validate them.
package config

import (
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
)

// KeyInfo describes a known configuration key.
type KeyInfo struct {
	Key         string
	Description string
	Type        string // "string", "int", "bool", "duration", "[]string", ...
	Default     any
	Deprecated  bool
	ReplacedBy  string
}

var (
	registry   = map[string]KeyInfo{}
	registryMu sync.RWMutex
)

// RegisterKeys records metadata, and optionally a default, for each key.
func RegisterKeys(infos ...KeyInfo) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, info := range infos {
		registry[info.Key] = info
	}
}

// RegisterDeprecatedKey records that oldKey has been replaced by newKey.
func RegisterDeprecatedKey(oldKey, newKey string) {
	RegisterKeys(KeyInfo{Key: oldKey, Deprecated: true, ReplacedBy: newKey})
}

// Lookup returns metadata for a registered key.
func Lookup(key string) (KeyInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := registry[key]
	return info, ok
}

// Keys returns all registered keys in alphabetical order.
func Keys() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Defaults returns the default value of every key that declares one.
func Defaults() map[string]any {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := map[string]any{}
	for k, info := range registry {
		if info.Default != nil {
			out[k] = info.Default
		}
	}
	return out
}

// Similar returns up to max registered keys close to key, closest first.
// Keys in the same namespace get a one edit bonus.
func Similar(key string, max int) []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	type scored struct {
		key   string
		score int
	}
	var candidates []scored
	ns := namespace(key)
	for k := range registry {
		d := levenshtein.ComputeDistance(key, k)
		if ns != "" && ns == namespace(k) && d > 0 {
			d--
		}
		if d <= 3 {
			candidates = append(candidates, scored{k, d})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].key < candidates[j].key
		}
		return candidates[i].score < candidates[j].score
	})

	out := make([]string, 0, max)
	for i := 0; i < len(candidates) && i < max; i++ {
		out = append(out, candidates[i].key)
	}
	return out
}

// namespace returns everything before the last dot.
func namespace(key string) string {
	if i := strings.LastIndex(key, "."); i >= 0 {
		return key[:i]
	}
	return ""
}

// underRegisteredPrefix reports whether some ancestor of key is registered,
// which lets applications own a whole subtree such as "oauth.clients".
func underRegisteredPrefix(key string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	parts := strings.Split(key, ".")
	for i := len(parts) - 1; i > 0; i-- {
		if _, ok := registry[strings.Join(parts[:i], ".")]; ok {
			return true
		}
	}
	return false
}
