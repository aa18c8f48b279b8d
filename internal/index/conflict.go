package index

import (
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateConflict matches every *ConflictError.
var ErrDuplicateConflict = errors.New("duplicate conflicting registration")

// Conflict records a rejected registration. Trait is empty for sidebar conflicts.
type Conflict struct {
	Trait        string    `json:"trait,omitempty"`
	Module       string    `json:"module"`
	KeptHash     string    `json:"kept_hash"`
	RejectedHash string    `json:"rejected_hash"`
	At           time.Time `json:"at"`
}

type ConflictError struct {
	Conflict Conflict
}

func (e *ConflictError) Error() string {
	if e.Conflict.Trait == "" {
		return fmt.Sprintf("%v: sidebar for %s (kept %.12s, rejected %.12s)",
			ErrDuplicateConflict, e.Conflict.Module, e.Conflict.KeptHash, e.Conflict.RejectedHash)
	}
	return fmt.Sprintf("%v: %s in %s (kept %.12s, rejected %.12s)",
		ErrDuplicateConflict, e.Conflict.Module, e.Conflict.Trait, e.Conflict.KeptHash, e.Conflict.RejectedHash)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrDuplicateConflict
}
