// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package task

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by the registry, ledger and quorum
// engine wraps exactly one of these.
var (
	// ErrValidation is returned for malformed or out-of-range input. Nothing
	// is mutated.
	ErrValidation = errors.New("validation error")
	// ErrNotFound is returned for references to records that do not exist.
	ErrNotFound = errors.New("not found")
	// ErrState is returned when an operation is illegal for the task's
	// current status. The existing record is untouched.
	ErrState = errors.New("state error")
	// ErrInvariant signals corrupted state detected during finalization. The
	// enclosing call must be aborted without committing any transfer.
	ErrInvariant = errors.New("invariant violation")
)

var (
	ErrZeroReward       = fmt.Errorf("%w: reward must be greater than 0", ErrValidation)
	ErrTooFewWorkers    = fmt.Errorf("%w: too few workers", ErrValidation)
	ErrTooManyWorkers   = fmt.Errorf("%w: too many workers", ErrValidation)
	ErrPaymentMismatch  = fmt.Errorf("%w: attached payment does not match reward", ErrValidation)
	ErrURITooLong       = fmt.Errorf("%w: work descriptor uri too long", ErrValidation)
	ErrEmptyHash        = fmt.Errorf("%w: result hash is empty", ErrValidation)
	ErrHashTooLong      = fmt.Errorf("%w: result hash too long", ErrValidation)
	ErrInsufficientFund = fmt.Errorf("%w: insufficient balance for escrow", ErrValidation)
	ErrReservedAccount  = fmt.Errorf("%w: account is reserved", ErrValidation)

	ErrTaskNotFound       = fmt.Errorf("%w: task", ErrNotFound)
	ErrSubmissionNotFound = fmt.Errorf("%w: submission", ErrNotFound)

	ErrTaskNotOpen         = fmt.Errorf("%w: task is not open", ErrState)
	ErrDuplicateSubmission = fmt.Errorf("%w: duplicate submission", ErrState)
)
