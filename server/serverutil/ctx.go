// Package serverutil carries request scoped server details through contexts.
package serverutil

import (
	"context"
	"strings"
)

type addressKey struct{}

// AddressFromContext returns the server's external address. This is what
// links and token issuers should reference, and likely points at a CDN or
// load balancer. Empty if unset.
func AddressFromContext(ctx context.Context) string {
	s, _ := ctx.Value(addressKey{}).(string)
	return s
}

// WithAddress adds the server's external address to the context.
func WithAddress(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, addressKey{}, address)
}

// IsSecure reports whether the external address is served over https, which
// decides the Secure flag on cookies.
func IsSecure(ctx context.Context) bool {
	return strings.HasPrefix(AddressFromContext(ctx), "https://")
}
