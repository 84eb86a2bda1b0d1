package blockstm

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvariantViolation is a defect in the engine or its caller. The block
	// output must not be committed.
	ErrInvariantViolation = errors.New("blockstm: invariant violation")
	// ErrMissingOutcome is returned when a converged block lacks an outcome.
	ErrMissingOutcome = errors.New("blockstm: missing execution outcome")
	// ErrDependency is reported by TxnView.Read on an estimate.
	ErrDependency = errors.New("blockstm: read dependency")
)

// DependencyError carries the index of the transaction a read is blocked on.
type DependencyError struct {
	BlockingIndex int
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("blockstm: read blocked on txn %d", e.BlockingIndex)
}

func (e *DependencyError) Unwrap() error { return ErrDependency }

func invariantf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvariantViolation, format, args...)
}

// IsInvariantViolation reports whether err was caused by a broken engine invariant.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInvariantViolation) || errors.Is(err, ErrMissingOutcome)
}
