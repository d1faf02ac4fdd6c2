package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "beeunity", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "beeunity", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	SignIns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "beeunity", Name: "sign_ins_total", Help: "Authorization code exchanges by outcome."},
		[]string{"outcome"},
	)
	Refreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "beeunity", Name: "session_refreshes_total", Help: "Refresh grant attempts by outcome."},
		[]string{"outcome"},
	)
	SignOuts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "beeunity", Name: "sign_outs_total", Help: "Session teardowns by reason."},
		[]string{"reason"},
	)
	APIResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "beeunity", Name: "api_responses_total", Help: "Backend REST responses by status class."},
		[]string{"class"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(SignIns)
	reg.MustRegister(Refreshes)
	reg.MustRegister(SignOuts)
	reg.MustRegister(APIResponses)
}

// StatusClass maps an HTTP status code to its "2xx".."5xx" label.
func StatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "other"
	}
}
