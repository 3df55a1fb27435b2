package purchase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var webhookEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "purchase_webhook_events_total",
		Help: "Payment gateway webhook events by type and outcome.",
	},
	[]string{"type", "outcome"},
)
