package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TokensMinted counts minted attendance tokens.
	TokensMinted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qrattend_tokens_minted_total",
		Help: "Number of attendance tokens minted.",
	})

	// ScansAccepted counts accepted scans.
	ScansAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qrattend_scans_accepted_total",
		Help: "Number of scans accepted.",
	})

	// ScansRejected counts rejected scans, labelled by reason so operators
	// can tell a wave of "too early" from a wave of "wrong place".
	ScansRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrattend_scans_rejected_total",
		Help: "Number of scans rejected, by reason.",
	}, []string{"reason"})
)
