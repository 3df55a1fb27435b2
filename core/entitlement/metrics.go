package entitlement

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconciliationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_reconciliations_total",
			Help: "Payment reconciliations by result.",
		},
		[]string{"result"},
	)

	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_items_total",
			Help: "Reconciled purchase items by outcome.",
		},
		[]string{"outcome"},
	)

	saveConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlement_save_conflicts_total",
			Help: "Entitlement record saves rejected by a concurrent write.",
		},
	)
)
