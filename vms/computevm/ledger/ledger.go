// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger records workers' one-shot votes on tasks.
package ledger

import (
	"errors"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/computevm/vms/computevm/config"
	"github.com/luxfi/computevm/vms/computevm/payment"
	"github.com/luxfi/computevm/vms/computevm/state"
	"github.com/luxfi/computevm/vms/computevm/task"
)

var errNoFinalizer = fmt.Errorf("%w: quota reached without a finalizer", task.ErrInvariant)

// Tasks is the part of the task registry the ledger needs.
type Tasks interface {
	GetTask(taskID uint64) (*task.Task, error)
	Save(*task.Task) error
}

// Finalizer decides a task once its worker quota is filled.
type Finalizer interface {
	Finalize(taskID uint64) (*task.Outcome, error)
}

type Ledger struct {
	config    config.Config
	state     *state.State
	tasks     Tasks
	finalizer Finalizer
	log       log.Logger
}

func New(cfg config.Config, s *state.State, tasks Tasks, logger log.Logger) *Ledger {
	return &Ledger{
		config: cfg,
		state:  s,
		tasks:  tasks,
		log:    logger,
	}
}

// SetFinalizer must be called before the first submission can fill a
// task's quota.
func (l *Ledger) SetFinalizer(f Finalizer) {
	l.finalizer = f
}

// SubmitResult records worker's vote for hash on the task. The submission
// that fills the quota finalizes the task before returning, and its outcome
// is returned. Otherwise the outcome is nil.
//
// Every rejection happens before the first write. An ErrInvariant from
// finalization leaves partial writes that the caller must discard.
func (l *Ledger) SubmitResult(taskID uint64, worker ids.ShortID, hash []byte) (*task.Outcome, error) {
	t, err := l.tasks.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != task.Open {
		return nil, fmt.Errorf("%w: task %d is %s", task.ErrTaskNotOpen, taskID, t.Status)
	}
	if t.Full() {
		return nil, fmt.Errorf("%w: open task %d has %d/%d submissions", task.ErrInvariant, taskID, t.SubmissionsCount, t.MaxWorkers)
	}
	if worker == payment.EscrowAccount {
		return nil, fmt.Errorf("%w: worker %s", task.ErrReservedAccount, worker)
	}
	submitted, err := l.state.HasSubmission(taskID, worker)
	if err != nil {
		return nil, err
	}
	if submitted {
		return nil, fmt.Errorf("%w: %s already voted on task %d", task.ErrDuplicateSubmission, worker, taskID)
	}
	switch {
	case len(hash) == 0:
		return nil, task.ErrEmptyHash
	case len(hash) > l.config.MaxHashLength:
		return nil, fmt.Errorf("%w: %d > %d bytes", task.ErrHashTooLong, len(hash), l.config.MaxHashLength)
	}

	if err := l.state.PutSubmission(taskID, worker, hash); err != nil {
		return nil, err
	}
	if _, err := l.state.AppendWorker(taskID, worker); err != nil {
		return nil, err
	}
	votes, err := l.state.IncrementFrequency(taskID, hash)
	if err != nil {
		return nil, err
	}
	t.SubmissionsCount++
	if err := l.tasks.Save(t); err != nil {
		return nil, err
	}

	l.log.Debug("result submitted",
		log.Uint64("taskID", taskID),
		log.Stringer("worker", worker),
		log.Uint64("votes", votes),
		log.Uint32("submissions", t.SubmissionsCount),
		log.Uint32("maxWorkers", t.MaxWorkers),
	)

	if t.SubmissionsCount < t.MaxWorkers {
		return nil, nil
	}
	if l.finalizer == nil {
		return nil, errNoFinalizer
	}
	return l.finalizer.Finalize(taskID)
}

// Submission returns the hash worker voted for on the task.
func (l *Ledger) Submission(taskID uint64, worker ids.ShortID) ([]byte, error) {
	hash, err := l.state.GetSubmission(taskID, worker)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s on task %d", task.ErrSubmissionNotFound, worker, taskID)
	}
	return hash, err
}

// Workers returns the task's voters in the order their votes arrived.
func (l *Ledger) Workers(taskID uint64) ([]ids.ShortID, error) {
	return l.state.GetWorkers(taskID)
}

// Votes returns how many workers voted hash on the task.
func (l *Ledger) Votes(taskID uint64, hash []byte) (uint64, error) {
	return l.state.GetFrequency(taskID, hash)
}
