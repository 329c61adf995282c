package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Violation is one failed integrity check.
type Violation struct {
	Key    BalanceKey
	Check  string
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s [%s] %s", v.Key.AccountPath(), v.Check, v.Detail)
}

// Integrity check names.
const (
	CheckNonNegative  = "non_negative"
	CheckLockedHolds  = "locked_matches_holds"
	CheckJournalTotal = "journal_replay"
)

// InvariantValidator compares stored balances against active holds and the
// replayed journal.
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateNonNegative verifies available >= 0 and locked >= 0.
func (v *InvariantValidator) ValidateNonNegative(b Balance) error {
	if b.Available.IsNegative() || b.Locked.IsNegative() {
		return fmt.Errorf("available %s, locked %s", b.Available, b.Locked)
	}
	return nil
}

// ValidateLockedMatchesHolds verifies locked equals the sum of ACTIVE holds.
func (v *InvariantValidator) ValidateLockedMatchesHolds(b Balance, activeHeld decimal.Decimal) error {
	if !b.Locked.Equal(activeHeld) {
		return fmt.Errorf("locked %s, active holds %s", b.Locked, activeHeld)
	}
	return nil
}

// ValidateJournal verifies the balance equals the replay of its journal.
func (v *InvariantValidator) ValidateJournal(b Balance) error {
	t := v.tracker.GetBalance(b.Key())
	if !b.Available.Equal(t.Available) || !b.Locked.Equal(t.Locked) {
		return fmt.Errorf("stored available %s locked %s, journal available %s locked %s",
			b.Available, b.Locked, t.Available, t.Locked)
	}
	return nil
}

// Check runs every check over balances and returns all violations.
// activeHeld maps each balance to the sum of its ACTIVE holds.
func (v *InvariantValidator) Check(balances []Balance, activeHeld map[BalanceKey]decimal.Decimal) []Violation {
	var out []Violation
	for _, b := range balances {
		if err := v.ValidateNonNegative(b); err != nil {
			out = append(out, Violation{Key: b.Key(), Check: CheckNonNegative, Detail: err.Error()})
		}
		if err := v.ValidateLockedMatchesHolds(b, activeHeld[b.Key()]); err != nil {
			out = append(out, Violation{Key: b.Key(), Check: CheckLockedHolds, Detail: err.Error()})
		}
		if err := v.ValidateJournal(b); err != nil {
			out = append(out, Violation{Key: b.Key(), Check: CheckJournalTotal, Detail: err.Error()})
		}
	}
	return out
}
