package match

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	matchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capmatch_match_requests_total",
		Help: "Match requests by terminal outcome.",
	}, []string{"outcome"})

	creditsSpentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capmatch_credits_spent_total",
		Help: "Credits debited for match queries, before any refunds.",
	})

	creditsRefundedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capmatch_credits_refunded_total",
		Help: "Credits refunded after failed searches.",
	})
)
