package observability

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StageTransitions counts applied stage transitions by stage and action.
	StageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movementflow_stage_transitions_total",
		Help: "Total number of applied stage transitions",
	}, []string{"stage", "action"})

	// TransitionFailures counts refused transitions by stage and reason.
	TransitionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movementflow_stage_transition_failures_total",
		Help: "Total number of refused stage transitions",
	}, []string{"stage", "reason"})

	// AccessDecisions counts access gate answers by stage and result.
	AccessDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movementflow_access_decisions_total",
		Help: "Total number of stage access checks by result",
	}, []string{"stage", "result"})

	// AccessCacheReloads counts reloads of the stage access cache.
	AccessCacheReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "movementflow_access_cache_reloads_total",
		Help: "Total number of stage access cache reloads",
	})

	// NotificationsTotal counts email notifications by kind and result.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movementflow_notifications_total",
		Help: "Total number of email notifications by kind and result",
	}, []string{"kind", "result"})

	// RequestsFinalized counts completed requests by final movement type.
	RequestsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movementflow_requests_finalized_total",
		Help: "Total number of finalized movement requests",
	}, []string{"movement_type"})
)

// Handler exposes the default registry for gin.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
