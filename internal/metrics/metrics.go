// Package metrics exposes Prometheus counters for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ThreadsCreated counts new threads, labeled by what opened them.
	ThreadsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailroom",
		Name:      "threads_created_total",
		Help:      "Number of threads created.",
	}, []string{"source"})

	// ThreadsClosed counts closed threads.
	ThreadsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mailroom",
		Name:      "threads_closed_total",
		Help:      "Number of threads closed.",
	})

	// MessagesRelayed counts relayed messages by direction.
	MessagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailroom",
		Name:      "messages_relayed_total",
		Help:      "Number of messages relayed between users and staff.",
	}, []string{"direction"})

	// DeliveryFailures counts sends the platform rejected.
	DeliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailroom",
		Name:      "delivery_failures_total",
		Help:      "Number of failed message deliveries.",
	}, []string{"direction"})
)

// Relay directions used as label values.
const (
	DirectionToStaff = "to_staff"
	DirectionToUser  = "to_user"
)
