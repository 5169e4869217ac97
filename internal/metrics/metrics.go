// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "checkin"

var (
	// HTTPRequestsTotal counts HTTP requests by route template, method and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by route, method and status code.",
	}, []string{"route", "method", "status"})

	// HTTPRequestDuration tracks request latency per route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	// CheckInsTotal counts check-in and cancellation attempts by outcome.
	CheckInsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "check_ins_total",
		Help:      "Check-in operations by action and outcome.",
	}, []string{"action", "outcome"})

	// StatementsTotal counts ledger entries written.
	StatementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_statements_total",
		Help:      "Ledger statements written by direction and credit pool.",
	}, []string{"type", "check_in_type"})

	// PaymentsTotal counts payment confirmations by provider and outcome.
	PaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payments_total",
		Help:      "Payment confirmations by provider and outcome (processed, duplicate, rejected, error).",
	}, []string{"provider", "outcome"})

	// LedgerDriftTotal counts users whose materialized balance disagreed
	// with the statement sum during reconciliation.
	LedgerDriftTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_drift_total",
		Help:      "Users found with a balance that differs from their statements.",
	})

	// TxRetriesTotal counts transaction attempts retried after a conflict.
	TxRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tx_retries_total",
		Help:      "Transactions retried after deadlock, serialization or busy errors.",
	}, []string{"dialect"})

	// QueueMessagesTotal counts consumed broker messages by queue and outcome.
	QueueMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_messages_total",
		Help:      "Broker messages handled by queue and outcome (ack, reject, requeue).",
	}, []string{"queue", "outcome"})

	// NotificationsTotal counts domain events published by kind and result.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Domain events published by kind and result.",
	}, []string{"kind", "result"})
)
