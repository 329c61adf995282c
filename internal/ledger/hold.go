package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// HoldStatus is the lifecycle state of a WalletHold. RELEASED and CAPTURED
// are terminal.
type HoldStatus string

const (
	HoldActive   HoldStatus = "ACTIVE"
	HoldReleased HoldStatus = "RELEASED"
	HoldCaptured HoldStatus = "CAPTURED"
)

func (s HoldStatus) Terminal() bool {
	return s == HoldReleased || s == HoldCaptured
}

func (s HoldStatus) Valid() bool {
	return s == HoldActive || s.Terminal()
}

// Reference types used as the first half of an idempotency key.
const (
	RefOrder      = "ORDER"
	RefDeposit    = "DEPOSIT"
	RefWithdrawal = "WITHDRAWAL"
	RefTransfer   = "TRANSFER"
	RefAdmin      = "ADMIN"
	RefFill       = "FILL"
)

// Ref names the operation that caused a mutation, e.g. ("ORDER", orderID).
type Ref struct {
	Type string
	ID   uuid.UUID
}

func NewRef(refType string, id uuid.UUID) Ref {
	return Ref{Type: refType, ID: id}
}

func (r Ref) IsZero() bool {
	return r.Type == "" && r.ID == uuid.Nil
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%s", r.Type, r.ID)
}

// Validate requires both halves of a non-zero reference.
func (r Ref) Validate() error {
	if r.Type == "" || r.ID == uuid.Nil {
		return Errorf(CodeInvalidRequest, "reference requires type and id, got %q", r.String())
	}
	return nil
}

// WalletHold ties a locked amount to the operation that reserved it.
// (Ref, Asset) is unique among ACTIVE holds. A partial capture closes the
// hold and opens an ACTIVE child for the remainder, linked by ParentID.
type WalletHold struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Asset         string
	Amount        decimal.Decimal
	Status        HoldStatus
	Ref           Ref
	SettledAmount decimal.Decimal
	ParentID      uuid.NullUUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (h WalletHold) Key() BalanceKey {
	return BalanceKey{UserID: h.UserID, Asset: h.Asset}
}

// HoldFilter narrows hold listings. Zero fields match everything.
type HoldFilter struct {
	UserID        uuid.UUID
	Asset         string
	Status        HoldStatus
	RefType       string
	Ref           Ref
	CreatedBefore time.Time
	Limit         int
}
