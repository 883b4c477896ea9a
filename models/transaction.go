package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger row.
type TransactionType string

const (
	TxEventEarning     TransactionType = "event_earning"
	TxProximityEarning TransactionType = "proximity_earning"
	TxAmbientEarning   TransactionType = "ambient_earning"
	TxStockBuy         TransactionType = "stock_buy"
	TxStockSell        TransactionType = "stock_sell"
	TxTransfer         TransactionType = "transfer"
	TxAdjustment       TransactionType = "adjustment"
)

var transactionTypes = map[TransactionType]struct{}{
	TxEventEarning:     {},
	TxProximityEarning: {},
	TxAmbientEarning:   {},
	TxStockBuy:         {},
	TxStockSell:        {},
	TxTransfer:         {},
	TxAdjustment:       {},
}

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	_, ok := transactionTypes[t]
	return ok
}

// IsProximityEarning reports whether t counts towards proximity stats.
func (t TransactionType) IsProximityEarning() bool {
	return t == TxProximityEarning || t == TxAmbientEarning
}

// ReferenceKind names the entity a transaction originated from.
type ReferenceKind string

const (
	RefEncounter ReferenceKind = "encounter"
	RefEvent     ReferenceKind = "event"
	RefExternal  ReferenceKind = "external"
)

// Valid reports whether k is a known reference kind.
func (k ReferenceKind) Valid() bool {
	switch k {
	case RefEncounter, RefEvent, RefExternal:
		return true
	}
	return false
}

// Reference points at the originating entity of a transaction.
type Reference struct {
	Kind ReferenceKind
	ID   string
}

// Transaction is an append-only ledger row. Amount is signed; BalanceAfter is the
// wallet balance right after this row was applied.
type Transaction struct {
	ID             string          `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	UserID         string          `gorm:"type:uuid;not null;index:idx_tx_user_created,priority:1;uniqueIndex:idx_tx_user_key,priority:1" json:"user_id"`
	Amount         decimal.Decimal `gorm:"type:numeric(20,6);not null" json:"amount"`
	BalanceAfter   decimal.Decimal `gorm:"type:numeric(20,6);not null" json:"balance_after"`
	Type           TransactionType `gorm:"type:varchar(32);not null;index" json:"type"`
	RefKind        *ReferenceKind  `gorm:"type:varchar(16)" json:"reference_kind,omitempty"`
	RefID          *string         `gorm:"type:varchar(128)" json:"reference_id,omitempty"`
	Description    string          `gorm:"type:text" json:"description,omitempty"`
	IdempotencyKey *string         `gorm:"type:varchar(200);uniqueIndex:idx_tx_user_key,priority:2" json:"-"`
	CreatedAt      time.Time       `gorm:"not null;index:idx_tx_user_created,priority:2" json:"created_at"`
	// Seq orders rows created within the same instant.
	Seq int64 `gorm:"autoIncrement;not null;uniqueIndex" json:"-"`
}

// SetReference stores ref on the row; nil clears it.
func (t *Transaction) SetReference(ref *Reference) {
	if ref == nil {
		t.RefKind, t.RefID = nil, nil
		return
	}
	kind, id := ref.Kind, ref.ID
	t.RefKind, t.RefID = &kind, &id
}

// Reference returns the structured reference, or nil.
func (t *Transaction) Reference() *Reference {
	if t.RefKind == nil || t.RefID == nil {
		return nil
	}
	return &Reference{Kind: *t.RefKind, ID: *t.RefID}
}
