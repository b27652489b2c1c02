// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package quorum decides a task by majority vote once its worker quota is
// filled, and pays the reward out of escrow accordingly.
//
// A hash wins if at least MajorityThreshold(maxWorkers) workers voted for it.
// Because the threshold is strictly more than half the quota, at most one
// hash can reach it. Winners split the reward equally, rounding down, and the
// configured remainder policy decides where the rest goes. Without a winner
// the creator is refunded in full.
package quorum

import (
	"bytes"
	"fmt"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/computevm/vms/computevm/config"
	"github.com/luxfi/computevm/vms/computevm/payment"
	"github.com/luxfi/computevm/vms/computevm/task"
)

// Tasks is the part of the task registry the engine needs.
type Tasks interface {
	GetTask(taskID uint64) (*task.Task, error)
	Save(*task.Task) error
}

// Votes is the read side of the submission ledger.
type Votes interface {
	Workers(taskID uint64) ([]ids.ShortID, error)
	Submission(taskID uint64, worker ids.ShortID) ([]byte, error)
	Votes(taskID uint64, hash []byte) (uint64, error)
}

// MajorityThreshold is the minimum number of identical votes that decides a
// task with the given quota.
func MajorityThreshold(maxWorkers uint32) uint32 {
	return maxWorkers/2 + 1
}

// Split divides reward equally among winners, rounding down.
func Split(reward uint64, winners int) (share uint64, remainder uint64) {
	if winners <= 0 {
		return 0, reward
	}
	n := uint64(winners)
	return reward / n, reward % n
}

type Engine struct {
	tasks    Tasks
	votes    Votes
	payments payment.Collaborator
	policy   config.RemainderPolicy
	log      log.Logger
}

func NewEngine(
	tasks Tasks,
	votes Votes,
	payments payment.Collaborator,
	policy config.RemainderPolicy,
	logger log.Logger,
) *Engine {
	return &Engine{
		tasks:    tasks,
		votes:    votes,
		payments: payments,
		policy:   policy,
		log:      logger,
	}
}

// Finalize decides the task, issues its transfers and leaves it Completed or
// Failed. It must only be called once the task's quota is filled.
//
// Any error wraps task.ErrInvariant: the stored state is inconsistent or a
// transfer failed, and the caller must discard every write of the enclosing
// call, including transfers already issued here.
func (e *Engine) Finalize(taskID uint64) (*task.Outcome, error) {
	t, err := e.tasks.GetTask(taskID)
	if err != nil {
		return nil, invariant(taskID, "loading task", err)
	}
	if t.Status != task.Open {
		return nil, fmt.Errorf("%w: finalizing task %d in status %s", task.ErrInvariant, taskID, t.Status)
	}
	t.Status = task.InVerification
	if err := e.tasks.Save(t); err != nil {
		return nil, invariant(taskID, "entering verification", err)
	}

	ballots, err := e.ballots(t)
	if err != nil {
		return nil, err
	}

	threshold := MajorityThreshold(t.MaxWorkers)
	outcome := &task.Outcome{
		TaskID:    taskID,
		Threshold: threshold,
	}

	winningHash, err := e.winningHash(taskID, ballots, threshold)
	if err != nil {
		return nil, err
	}
	if winningHash == nil {
		outcome.Payouts = []task.Payout{{
			To:     t.Creator,
			Amount: t.RewardAmount,
			Kind:   task.Refund,
		}}
		outcome.Status = task.Failed
	} else {
		if err := e.distribute(t, ballots, winningHash, outcome); err != nil {
			return nil, err
		}
		outcome.Status = task.Completed
	}

	for _, p := range outcome.Payouts {
		if err := e.payments.Transfer(p.To, p.Amount); err != nil {
			return nil, invariant(taskID, fmt.Sprintf("paying %s %d to %s", p.Kind, p.Amount, p.To), err)
		}
	}

	t.Status = outcome.Status
	if err := e.tasks.Save(t); err != nil {
		return nil, invariant(taskID, "saving final status", err)
	}

	e.log.Info("task finalized",
		log.Uint64("taskID", taskID),
		log.Stringer("status", t.Status),
		log.Uint32("threshold", threshold),
		log.Int("winners", len(outcome.Winners)),
		log.Uint64("share", outcome.Share),
		log.Uint64("remainder", outcome.Remainder),
		log.Uint64("paid", outcome.TotalPaid()),
	)
	return outcome, nil
}

type ballot struct {
	worker ids.ShortID
	hash   []byte
}

// ballots loads every vote in arrival order and checks it against the task's
// counters.
func (e *Engine) ballots(t *task.Task) ([]ballot, error) {
	workers, err := e.votes.Workers(t.ID)
	if err != nil {
		return nil, invariant(t.ID, "loading worker order", err)
	}
	if t.SubmissionsCount != t.MaxWorkers {
		return nil, fmt.Errorf("%w: task %d finalized with %d/%d submissions",
			task.ErrInvariant, t.ID, t.SubmissionsCount, t.MaxWorkers)
	}
	if uint64(len(workers)) != uint64(t.SubmissionsCount) {
		return nil, fmt.Errorf("%w: task %d has %d workers in order but %d submissions",
			task.ErrInvariant, t.ID, len(workers), t.SubmissionsCount)
	}

	ballots := make([]ballot, len(workers))
	for i, w := range workers {
		hash, err := e.votes.Submission(t.ID, w)
		if err != nil {
			return nil, invariant(t.ID, fmt.Sprintf("loading vote of %s", w), err)
		}
		ballots[i] = ballot{worker: w, hash: hash}
	}
	return ballots, nil
}

// winningHash walks the votes in arrival order and returns the first hash
// whose tally reaches threshold, or nil.
func (e *Engine) winningHash(taskID uint64, ballots []ballot, threshold uint32) ([]byte, error) {
	for _, b := range ballots {
		votes, err := e.votes.Votes(taskID, b.hash)
		if err != nil {
			return nil, invariant(taskID, "loading tally", err)
		}
		if votes >= uint64(threshold) {
			return b.hash, nil
		}
	}
	return nil, nil
}

func (e *Engine) distribute(t *task.Task, ballots []ballot, winningHash []byte, outcome *task.Outcome) error {
	for _, b := range ballots {
		if bytes.Equal(b.hash, winningHash) {
			outcome.Winners = append(outcome.Winners, b.worker)
		}
	}
	votes, err := e.votes.Votes(t.ID, winningHash)
	if err != nil {
		return invariant(t.ID, "loading winning tally", err)
	}
	if votes != uint64(len(outcome.Winners)) {
		return fmt.Errorf("%w: task %d winning hash has %d votes but %d voters",
			task.ErrInvariant, t.ID, votes, len(outcome.Winners))
	}

	outcome.WinningHash = winningHash
	outcome.Share, outcome.Remainder = Split(t.RewardAmount, len(outcome.Winners))
	outcome.Payouts = make([]task.Payout, 0, len(outcome.Winners)+1)
	for _, w := range outcome.Winners {
		outcome.Payouts = append(outcome.Payouts, task.Payout{
			To:     w,
			Amount: outcome.Share,
			Kind:   task.Share,
		})
	}

	if outcome.Remainder == 0 {
		return nil
	}
	switch e.policy {
	case config.RemainderToCreator:
		outcome.Payouts = append(outcome.Payouts, task.Payout{
			To:     t.Creator,
			Amount: outcome.Remainder,
			Kind:   task.Remainder,
		})
	case config.RemainderToFirstWinner:
		outcome.Payouts = append(outcome.Payouts, task.Payout{
			To:     outcome.Winners[0],
			Amount: outcome.Remainder,
			Kind:   task.Remainder,
		})
	case config.RemainderBurn:
		e.log.Debug("remainder left in escrow",
			log.Uint64("taskID", t.ID),
			log.Uint64("remainder", outcome.Remainder),
		)
	default:
		return fmt.Errorf("%w: unknown remainder policy %q", task.ErrInvariant, e.policy)
	}
	return nil
}

func invariant(taskID uint64, step string, err error) error {
	return fmt.Errorf("%w: task %d: %s: %w", task.ErrInvariant, taskID, step, err)
}
