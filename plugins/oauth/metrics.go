package oauth

import (
	"net/http"

	"github.com/go-oauth2/oauth2/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Authorization outcomes.
const (
	outcomeApproved = "approved"
	outcomeDenied   = "denied"
	outcomeRejected = "rejected"
)

type metrics struct {
	registry       *prometheus.Registry
	authorizations *prometheus.CounterVec
	tokensIssued   *prometheus.CounterVec
	tokenErrors    *prometheus.CounterVec
	codesPurged    prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		authorizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantd_authorizations_total",
			Help: "Consent decisions by outcome.",
		}, []string{"outcome"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantd_tokens_issued_total",
			Help: "Token pairs issued or rotated, by grant type.",
		}, []string{"grant_type"}),
		tokenErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantd_token_errors_total",
			Help: "Failed token requests by grant type and error code.",
		}, []string{"grant_type", "error"}),
		codesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grantd_codes_purged_total",
			Help: "Expired authorization codes deleted by the purger.",
		}),
	}
	m.registry.MustRegister(
		m.authorizations,
		m.tokensIssued,
		m.tokenErrors,
		m.codesPurged,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// grantLabel keeps label cardinality bounded when clients send junk.
func grantLabel(grantType string) string {
	switch oauth2.GrantType(grantType) {
	case oauth2.AuthorizationCode, oauth2.Refreshing:
		return grantType
	case "":
		return "none"
	}
	return "other"
}
