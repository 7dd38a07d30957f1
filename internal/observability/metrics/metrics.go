package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustgate_otp_requests_total",
			Help: "OTP issuance requests by purpose and outcome.",
		},
		[]string{"purpose", "result"},
	)

	OTPVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustgate_otp_verifications_total",
			Help: "OTP verification attempts by purpose and outcome.",
		},
		[]string{"purpose", "result"},
	)

	StoreFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustgate_store_fallbacks_total",
			Help: "Operations served by process-local state because the shared store failed.",
		},
		[]string{"store"},
	)

	LinkTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustgate_link_tokens_total",
			Help: "Link tokens issued and verified.",
		},
		[]string{"op", "result"},
	)
)

// MustRegister registers every collector with reg.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		OTPRequestsTotal,
		OTPVerificationsTotal,
		StoreFallbacksTotal,
		LinkTokensTotal,
	)
}
