// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package task

import (
	"encoding/json"
	"fmt"
)

// Status is a task's lifecycle state. The only transitions are
// Open -> InVerification -> Completed and Open -> InVerification -> Failed.
type Status uint8

const (
	Open Status = iota
	// InVerification guards finalization against re-entry. It is entered
	// and left within a single finalization.
	InVerification
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Open:
		return "Open"
	case InVerification:
		return "InVerification"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s <= Failed
}

func (s Status) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: unknown status %d", ErrValidation, uint8(s))
	}
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	parsed, err := ParseStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus parses the String form of a status.
func ParseStatus(str string) (Status, error) {
	for s := Open; s <= Failed; s++ {
		if s.String() == str {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown status %q", ErrValidation, str)
}
