// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package registry owns task records and their creation.
package registry

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

// Registry creates tasks and serves them back. Status and submission count
// changes are made by the ledger and the quorum engine through Save.
type Registry struct {
	config   config.Config
	state    *state.State
	payments payment.Collaborator
	log      log.Logger
}

func New(
	cfg config.Config,
	s *state.State,
	payments payment.Collaborator,
	logger log.Logger,
) *Registry {
	return &Registry{
		config:   cfg,
		state:    s,
		payments: payments,
		log:      logger,
	}
}

// PostTask creates an Open task funded by attachedPayment, which must equal
// reward. On error the caller must discard every write made during the
// call: the task id and escrow are written before the escrow can fail.
func (r *Registry) PostTask(
	creator ids.ShortID,
	work task.WorkDescriptor,
	reward uint64,
	maxWorkers uint32,
	attachedPayment uint64,
) (uint64, error) {
	if err := r.verify(creator, work, reward, maxWorkers, attachedPayment); err != nil {
		return 0, err
	}

	taskID, err := r.state.TaskCounter()
	if err != nil {
		return 0, err
	}

	t := &task.Task{
		ID:           taskID,
		Creator:      creator,
		Work:         work,
		RewardAmount: reward,
		MaxWorkers:   maxWorkers,
		Status:       task.Open,
	}
	if err := r.state.PutTask(t); err != nil {
		return 0, err
	}
	if err := r.state.SetTaskCounter(taskID + 1); err != nil {
		return 0, err
	}
	if err := r.payments.Escrow(creator, reward, taskID); err != nil {
		return 0, fmt.Errorf("failed to escrow reward for task %d: %w", taskID, err)
	}

	r.log.Debug("task posted",
		log.Uint64("taskID", taskID),
		log.Stringer("creator", creator),
		log.Uint64("reward", reward),
		log.Uint32("maxWorkers", maxWorkers),
	)
	return taskID, nil
}

func (r *Registry) verify(
	creator ids.ShortID,
	work task.WorkDescriptor,
	reward uint64,
	maxWorkers uint32,
	attachedPayment uint64,
) error {
	switch {
	case creator == payment.EscrowAccount:
		return fmt.Errorf("%w: creator %s", task.ErrReservedAccount, creator)
	case reward == 0:
		return task.ErrZeroReward
	case attachedPayment != reward:
		return fmt.Errorf("%w: attached %d, reward %d", task.ErrPaymentMismatch, attachedPayment, reward)
	case maxWorkers < r.config.MinWorkers:
		return fmt.Errorf("%w: %d < %d", task.ErrTooFewWorkers, maxWorkers, r.config.MinWorkers)
	case maxWorkers > r.config.MaxWorkers:
		return fmt.Errorf("%w: %d > %d", task.ErrTooManyWorkers, maxWorkers, r.config.MaxWorkers)
	case len(work.ImageURI) > r.config.MaxURILength, len(work.InputURI) > r.config.MaxURILength:
		return fmt.Errorf("%w: limit is %d bytes", task.ErrURITooLong, r.config.MaxURILength)
	default:
		return nil
	}
}

func (r *Registry) GetTask(taskID uint64) (*task.Task, error) {
	t, err := r.state.GetTask(taskID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", task.ErrTaskNotFound, taskID)
	}
	return t, err
}

func (r *Registry) GetTaskStatus(taskID uint64) (task.Status, error) {
	t, err := r.GetTask(taskID)
	if err != nil {
		return 0, err
	}
	return t.Status, nil
}

// TaskCount returns how many tasks have ever been posted. Task ids are
// 0..TaskCount-1.
func (r *Registry) TaskCount() (uint64, error) {
	return r.state.TaskCounter()
}

// ListTasks returns up to limit tasks starting at id start, in id order.
func (r *Registry) ListTasks(start uint64, limit int) ([]*task.Task, error) {
	count, err := r.state.TaskCounter()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > r.config.MaxListLength {
		limit = r.config.MaxListLength
	}

	tasks := make([]*task.Task, 0, min(uint64(limit), count-min(start, count)))
	for id := start; id < count && len(tasks) < limit; id++ {
		t, err := r.GetTask(id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Save persists a task the ledger or quorum engine changed.
func (r *Registry) Save(t *task.Task) error {
	return r.state.PutTask(t)
}
