// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package payment moves funds in and out of task escrow.
package payment

import (
	"errors"
	"fmt"

	safemath "github.com/luxfi/math"

	"github.com/luxfi/ids"

	"github.com/luxfi/computevm/vms/computevm/state"
	"github.com/luxfi/computevm/vms/computevm/task"
)

var (
	// EscrowAccount holds every task's reward between creation and
	// finalization.
	EscrowAccount = ids.ShortID{'c', 'o', 'm', 'p', 'u', 't', 'e', 'v', 'm', '/', 'e', 's', 'c', 'r', 'o', 'w'}

	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrZeroAmount          = errors.New("zero amount")
	ErrSelfTransfer        = errors.New("transfer to self")

	_ Collaborator = (*Bank)(nil)
)

// Collaborator performs the balance transfers the VM instructs. The VM never
// models custody itself.
type Collaborator interface {
	// Escrow holds amount from payer against taskID.
	Escrow(payer ids.ShortID, amount uint64, taskID uint64) error
	// Transfer pays amount out of escrow to the recipient.
	Transfer(to ids.ShortID, amount uint64) error
}

// Bank keeps balances in the VM's own state, so its transfers commit or
// abort together with the call that issued them.
type Bank struct {
	state *state.State
}

func NewBank(s *state.State) *Bank {
	return &Bank{state: s}
}

func (b *Bank) Balance(addr ids.ShortID) (uint64, error) {
	return b.state.GetBalance(addr)
}

// Escrowed returns the reward held for taskID at creation.
func (b *Bank) Escrowed(taskID uint64) (uint64, error) {
	return b.state.GetEscrow(taskID)
}

// Credit mints amount into addr. It is only used to apply genesis
// allocations.
func (b *Bank) Credit(addr ids.ShortID, amount uint64) error {
	balance, err := b.state.GetBalance(addr)
	if err != nil {
		return err
	}
	balance, err = safemath.Add64(balance, amount)
	if err != nil {
		return fmt.Errorf("crediting %s: %w", addr, err)
	}
	return b.state.SetBalance(addr, balance)
}

// Escrow returns an error wrapping task.ErrInsufficientFund if payer cannot
// cover amount, and task.ErrReservedAccount if payer is the escrow account.
func (b *Bank) Escrow(payer ids.ShortID, amount uint64, taskID uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	if payer == EscrowAccount {
		return fmt.Errorf("%w: %w", task.ErrReservedAccount, ErrSelfTransfer)
	}
	if err := b.move(payer, EscrowAccount, amount); err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			return fmt.Errorf("%w: %w", task.ErrInsufficientFund, err)
		}
		return err
	}
	return b.state.SetEscrow(taskID, amount)
}

func (b *Bank) Transfer(to ids.ShortID, amount uint64) error {
	if amount == 0 {
		return nil
	}
	return b.move(EscrowAccount, to, amount)
}

func (b *Bank) move(from, to ids.ShortID, amount uint64) error {
	if from == to {
		return fmt.Errorf("%w: %s", ErrSelfTransfer, from)
	}
	fromBalance, err := b.state.GetBalance(from)
	if err != nil {
		return err
	}
	fromBalance, err = safemath.Sub(fromBalance, amount)
	if err != nil {
		return fmt.Errorf("%w: %s has less than %d", ErrInsufficientBalance, from, amount)
	}
	if err := b.state.SetBalance(from, fromBalance); err != nil {
		return err
	}

	toBalance, err := b.state.GetBalance(to)
	if err != nil {
		return err
	}
	toBalance, err = safemath.Add64(toBalance, amount)
	if err != nil {
		return fmt.Errorf("crediting %s: %w", to, err)
	}
	return b.state.SetBalance(to, toBalance)
}
