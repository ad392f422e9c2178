package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Token metrics

	TokensIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zbox",
		Name:      "tokens_issued_total",
		Help:      "Ad links issued, by outcome.",
	}, []string{"outcome"})

	TokenRedemptionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zbox",
		Name:      "token_redemptions_total",
		Help:      "Token redemption attempts, by outcome.",
	}, []string{"outcome"})

	// Referral metrics

	ReferralRedemptionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zbox",
		Name:      "referral_redemptions_total",
		Help:      "Referral redemption attempts, by outcome.",
	}, []string{"outcome"})

	ReferralCodesCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zbox",
		Name:      "referral_codes_created_total",
		Help:      "Referral codes created.",
	})

	// Access metrics

	AccessGrantsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zbox",
		Name:      "access_grants_total",
		Help:      "Access windows granted or extended, by source.",
	}, []string{"source"})

	AccessChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zbox",
		Name:      "access_checks_total",
		Help:      "Access checks, by result.",
	}, []string{"result"})

	// Ad provider metrics

	AdProviderRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zbox",
		Name:      "ad_provider_request_duration_seconds",
		Help:      "Latency of URL shortening calls to the ad provider.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"outcome"})

	// Reaper metrics

	ReaperReapedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zbox",
		Name:      "reaper_reaped_total",
		Help:      "Expired access windows removed.",
	})

	ReaperCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "zbox",
		Name:      "reaper_cycle_duration_seconds",
		Help:      "Time taken for one reaper sweep.",
		Buckets:   prometheus.DefBuckets,
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zbox",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zbox",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		TokensIssuedTotal,
		TokenRedemptionsTotal,
		ReferralRedemptionsTotal,
		ReferralCodesCreatedTotal,
		AccessGrantsTotal,
		AccessChecksTotal,
		AdProviderRequestDuration,
		ReaperReapedTotal,
		ReaperCycleDuration,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// PendingReaps exposes the number of access windows waiting for their
// delayed reap. The caller registers it.
func PendingReaps(pending func() int) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "zbox",
		Name:      "delayed_reaps_pending",
		Help:      "Access windows with a reap scheduled at expiry.",
	}, func() float64 { return float64(pending()) })
}

// Prober is satisfied by *health.Checker.
type Prober interface {
	LivenessJSON(ctx context.Context) (int, []byte)
	ReadinessJSON(ctx context.Context) (int, []byte)
}

// NewServer serves /metrics plus the liveness and readiness probes.
func NewServer(addr string, probes Prober) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/livez", probeHandler(probes.LivenessJSON))
	mux.HandleFunc("/readyz", probeHandler(probes.ReadinessJSON))
	return &http.Server{Addr: addr, Handler: mux}
}

func probeHandler(probe func(ctx context.Context) (int, []byte)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, body := probe(r.Context())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}
}
