// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package task defines the records shared by the task registry, the
// submission ledger and the quorum engine.
package task

import (
	"fmt"

	"github.com/luxfi/ids"
)

// WorkDescriptor is the opaque reference to the work a task asks for. The
// VM never interprets it.
type WorkDescriptor struct {
	// ImageURI locates the image or program workers run.
	ImageURI string `serialize:"true" json:"imageUri"`
	// InputURI locates the input data workers run it against.
	InputURI string `serialize:"true" json:"inputUri"`
}

// Task is a unit of work posted with an escrowed reward and a worker quota.
type Task struct {
	ID               uint64         `serialize:"true" json:"id"`
	Creator          ids.ShortID    `serialize:"true" json:"creator"`
	Work             WorkDescriptor `serialize:"true" json:"work"`
	RewardAmount     uint64         `serialize:"true" json:"rewardAmount"`
	MaxWorkers       uint32         `serialize:"true" json:"maxWorkers"`
	SubmissionsCount uint32         `serialize:"true" json:"submissionsCount"`
	Status           Status         `serialize:"true" json:"status"`
}

// Full reports whether every worker slot has been taken.
func (t *Task) Full() bool {
	return t.SubmissionsCount >= t.MaxWorkers
}

// PayoutKind describes why funds left escrow.
type PayoutKind uint8

const (
	// Share is a winner's equal part of the reward.
	Share PayoutKind = iota
	// Remainder is the indivisible rest of the reward after equal shares.
	Remainder
	// Refund returns the full reward to the creator when no hash reached
	// the majority threshold.
	Refund
)

func (k PayoutKind) String() string {
	switch k {
	case Share:
		return "share"
	case Remainder:
		return "remainder"
	case Refund:
		return "refund"
	default:
		return "unknown"
	}
}

func (k PayoutKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *PayoutKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "share":
		*k = Share
	case "remainder":
		*k = Remainder
	case "refund":
		*k = Refund
	default:
		return fmt.Errorf("%w: unknown payout kind %q", ErrValidation, text)
	}
	return nil
}

// Payout is a single transfer out of escrow made during finalization.
type Payout struct {
	To     ids.ShortID `json:"to"`
	Amount uint64      `json:"amount"`
	Kind   PayoutKind  `json:"kind"`
}

// Outcome records what finalization decided and which transfers it issued.
type Outcome struct {
	TaskID    uint64 `json:"taskId"`
	Status    Status `json:"status"`
	Threshold uint32 `json:"threshold"`

	// WinningHash is nil when no hash reached the threshold.
	WinningHash []byte        `json:"winningHash,omitempty"`
	Winners     []ids.ShortID `json:"winners,omitempty"`
	Share       uint64        `json:"share"`

	// Remainder is reward - share*len(Winners). It is only transferred if
	// the remainder policy names a recipient, in which case a Remainder
	// payout appears in Payouts.
	Remainder uint64   `json:"remainder"`
	Payouts   []Payout `json:"payouts"`
}

// TotalPaid sums every transfer the outcome issued.
func (o *Outcome) TotalPaid() uint64 {
	var total uint64
	for _, p := range o.Payouts {
		total += p.Amount
	}
	return total
}

// Unpaid is the part of the reward that never left escrow.
func (o *Outcome) Unpaid(reward uint64) uint64 {
	return reward - o.TotalPaid()
}
