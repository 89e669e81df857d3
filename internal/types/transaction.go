package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	TransactionTypeCredit = "credit"
	TransactionTypeDebit  = "debit"
)

// Transaction is an append-only ledger entry. Amount is always positive; the
// type carries the sign. A user's signed sum must equal balance_credits at all
// times, so a Transaction row is only ever written in the same DB transaction
// as its balance update.
type Transaction struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`
	Amount      int       `gorm:"not null;column:amount" json:"amount"`
	Type        string    `gorm:"not null;column:type" json:"type"`
	Description string    `gorm:"column:description" json:"description"`
	CreatedAt   time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}
