// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Auth events
	AuthRegister       = "register"
	AuthLogin          = "login"
	AuthRefresh        = "refresh"
	AuthLogout         = "logout"
	AuthChangePassword = "change_password"
	AuthForgotPassword = "forgot_password"
	AuthResetPassword  = "reset_password"
	AuthVerifyEmail    = "verify_email"
	AuthDeleteAccount  = "delete_account"

	// Auth results
	ResultSuccess = "success"
	ResultFailure = "failure"

	// Synced resources
	ResourceRun          = "run"
	ResourceRace         = "race"
	ResourceTrainingPlan = "training_plan"
	ResourceSharedRun    = "shared_run"
	ResourceFeedItem     = "feed_item"
	ResourceChallenge    = "challenge"

	// Upsert outcomes beyond model.UpsertOutcome.String()
	OutcomeStale = "stale"

	// Mail kinds
	MailVerification = "verification"
	MailReset        = "reset"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainsync_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trainsync_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"route", "method"},
	)

	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainsync_rate_limit_rejections_total",
			Help: "Requests rejected by the auth rate limiter",
		},
		[]string{"route"},
	)
)

// Domain Metrics
var (
	AuthEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainsync_auth_events_total",
			Help: "Session manager operations by result",
		},
		[]string{"event", "result"},
	)

	UpsertOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainsync_upsert_outcomes_total",
			Help: "Idempotent uploads by resource and outcome (created, updated, existing, stale)",
		},
		[]string{"resource", "outcome"},
	)

	MailDispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainsync_mail_dispatch_total",
			Help: "One-time code emails handed to the mail driver",
		},
		[]string{"kind", "result"},
	)
)

// Result maps an error to ResultSuccess or ResultFailure.
func Result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
