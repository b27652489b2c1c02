// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/computevm/vms/computevm/task"
)

const (
	OpLabel     = "op"
	StatusLabel = "status"
	KindLabel   = "kind"

	PostTaskOp     = "post_task"
	SubmitResultOp = "submit_result"
)

var _ Metrics = (*metricsImpl)(nil)

type Metrics interface {
	// MarkPosted records a new task and the reward it escrowed.
	MarkPosted(reward uint64)
	// MarkSubmitted records an accepted vote.
	MarkSubmitted()
	// MarkRejected records a call that was refused and rolled back.
	MarkRejected(op string)
	// MarkFinalized records every transfer finalization issued and any
	// reward left in escrow.
	MarkFinalized(outcome *task.Outcome, reward uint64)
}

type metricsImpl struct {
	posted    prometheus.Counter
	escrowed  prometheus.Counter
	submitted prometheus.Counter
	rejected  *prometheus.CounterVec
	finalized *prometheus.CounterVec
	paidOut   *prometheus.CounterVec
	unpaid    prometheus.Counter
}

func New(namespace string, registerer prometheus.Registerer) (Metrics, error) {
	m := &metricsImpl{
		posted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_posted",
			Help:      "Number of tasks posted",
		}),
		escrowed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reward_escrowed",
			Help:      "Total reward moved into escrow",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_submitted",
			Help:      "Number of accepted result submissions",
		}),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_rejected",
				Help:      "Number of calls rejected, by operation",
			},
			[]string{OpLabel},
		),
		finalized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_finalized",
				Help:      "Number of tasks finalized, by final status",
			},
			[]string{StatusLabel},
		),
		paidOut: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reward_paid_out",
				Help:      "Total reward transferred out of escrow, by payout kind",
			},
			[]string{KindLabel},
		),
		unpaid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reward_unpaid",
			Help:      "Total reward left in escrow after finalization",
		}),
	}

	err := errors.Join(
		registerer.Register(m.posted),
		registerer.Register(m.escrowed),
		registerer.Register(m.submitted),
		registerer.Register(m.rejected),
		registerer.Register(m.finalized),
		registerer.Register(m.paidOut),
		registerer.Register(m.unpaid),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metricsImpl) MarkPosted(reward uint64) {
	m.posted.Inc()
	m.escrowed.Add(float64(reward))
}

func (m *metricsImpl) MarkSubmitted() {
	m.submitted.Inc()
}

func (m *metricsImpl) MarkRejected(op string) {
	m.rejected.WithLabelValues(op).Inc()
}

func (m *metricsImpl) MarkFinalized(outcome *task.Outcome, reward uint64) {
	m.finalized.WithLabelValues(outcome.Status.String()).Inc()
	for _, p := range outcome.Payouts {
		m.paidOut.WithLabelValues(p.Kind.String()).Add(float64(p.Amount))
	}
	m.unpaid.Add(float64(outcome.Unpaid(reward)))
}
