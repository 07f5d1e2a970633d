package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "paytrack"

// Tracker holds the collectors updated by tracking sessions.
type Tracker struct {
	Polls           *prometheus.CounterVec
	PushUpdates     *prometheus.CounterVec
	Retries         *prometheus.CounterVec
	Copies          *prometheus.CounterVec
	WalletOutcomes  *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	ExpiredModals   prometheus.Counter
	SettledPayments *prometheus.CounterVec
}

// New registers the tracker collectors on reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer) *Tracker {
	f := promauto.With(reg)

	return &Tracker{
		Polls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_polls_total",
			Help:      "Payment status polls by result.",
		}, []string{"result"}),
		PushUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_updates_total",
			Help:      "Push channel updates by outcome.",
		}, []string{"outcome"}),
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_retries_total",
			Help:      "Replacement payment requests by result.",
		}, []string{"result"}),
		Copies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clipboard_copies_total",
			Help:      "Clipboard copies by kind and result.",
		}, []string{"kind", "result"}),
		WalletOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_link_outcomes_total",
			Help:      "Wallet deep link attempts by outcome.",
		}, []string{"outcome"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Open payment tracking sessions.",
		}),
		ExpiredModals: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_modals_total",
			Help:      "Expired modals opened.",
		}),
		SettledPayments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settled_payments_total",
			Help:      "Payments observed reaching a terminal status.",
		}, []string{"status"}),
	}
}
