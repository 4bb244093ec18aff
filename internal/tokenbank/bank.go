// Package tokenbank is a database-backed value-transfer service. It keeps a
// balance per address and ERC20-style allowances so a custodian can pull
// pre-approved funds from customers and push payouts out of its own balance.
package tokenbank

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/escrow/pkg/escrow"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	errorOperationBank    = "token_bank"
	errorSubjectAccount   = "account"
	errorSubjectAllowance = "allowance"
	errorCodeApprove      = "approve"
	errorCodeCredit       = "credit"
	errorCodeDebit        = "debit"
	errorCodeLookup       = "lookup"
	errorCodeMigrate      = "migrate"
)

// errShortFunds aborts a transfer transaction without surfacing an error to
// the caller; the bank reports such transfers as declined instead.
var errShortFunds = errors.New("token bank: insufficient funds")

// Bank implements escrow.Transferor on top of a relational database. The
// operator address is the account debited by Transfer and the spender whose
// allowance TransferFrom consumes.
type Bank struct {
	db       *gorm.DB
	operator escrow.Address
}

// New returns a Bank acting on behalf of the operator address.
func New(db *gorm.DB, operator escrow.Address) (*Bank, error) {
	if db == nil || operator.IsZero() {
		return nil, escrow.ErrInvalidServiceConfig
	}
	return &Bank{db: db, operator: operator}, nil
}

// Migrate creates the token tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&TokenAccount{}, &TokenAllowance{}); err != nil {
		return wrapBankError(errorSubjectAccount, errorCodeMigrate, err)
	}
	return nil
}

// Mint credits freshly issued funds to an address.
func (bank *Bank) Mint(ctx context.Context, to escrow.Address, amountCents escrow.AmountCents) error {
	if amountCents.Int64() < 0 {
		return wrapBankError(errorSubjectAccount, errorCodeCredit, escrow.ErrInvalidAmountCents)
	}
	if amountCents.Int64() == 0 {
		return nil
	}
	if err := credit(bank.db.WithContext(ctx), to, amountCents); err != nil {
		return err
	}
	return nil
}

// Approve grants the spender the right to pull up to amountCents from the
// owner. The grant replaces any previous one.
func (bank *Bank) Approve(ctx context.Context, owner escrow.Address, spender escrow.Address, amountCents escrow.AmountCents) error {
	if amountCents.Int64() < 0 {
		return wrapBankError(errorSubjectAllowance, errorCodeApprove, escrow.ErrInvalidAmountCents)
	}
	allowance := TokenAllowance{Owner: owner.String(), Spender: spender.String(), AmountCents: amountCents.Int64()}
	err := bank.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner"}, {Name: "spender"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"amount_cents": amountCents.Int64()}),
	}).Create(&allowance).Error
	if err != nil {
		return wrapBankError(errorSubjectAllowance, errorCodeApprove, err)
	}
	return nil
}

// BalanceOf reports the current balance of an address; unknown addresses hold
// zero.
func (bank *Bank) BalanceOf(ctx context.Context, address escrow.Address) (escrow.AmountCents, error) {
	var account TokenAccount
	err := bank.db.WithContext(ctx).First(&account, "address = ?", address.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapBankError(errorSubjectAccount, errorCodeLookup, err)
	}
	balance, err := escrow.NewAmountCents(account.BalanceCents)
	if err != nil {
		return 0, wrapBankError(errorSubjectAccount, errorCodeLookup, err)
	}
	return balance, nil
}

// Allowance reports the remaining grant from owner to spender.
func (bank *Bank) Allowance(ctx context.Context, owner escrow.Address, spender escrow.Address) (escrow.AmountCents, error) {
	var allowance TokenAllowance
	err := bank.db.WithContext(ctx).First(&allowance, "owner = ? and spender = ?", owner.String(), spender.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapBankError(errorSubjectAllowance, errorCodeLookup, err)
	}
	remaining, err := escrow.NewAmountCents(allowance.AmountCents)
	if err != nil {
		return 0, wrapBankError(errorSubjectAllowance, errorCodeLookup, err)
	}
	return remaining, nil
}

// Transfer moves funds from the operator balance to the recipient. A false
// result means the operator balance could not cover the amount.
func (bank *Bank) Transfer(ctx context.Context, to escrow.Address, amountCents escrow.AmountCents) (bool, error) {
	if amountCents.Int64() < 0 {
		return false, wrapBankError(errorSubjectAccount, errorCodeDebit, escrow.ErrInvalidAmountCents)
	}
	if amountCents.Int64() == 0 {
		return true, nil
	}
	err := bank.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := debit(tx, bank.operator, amountCents); err != nil {
			return err
		}
		return credit(tx, to, amountCents)
	})
	if errors.Is(err, errShortFunds) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// TransferFrom moves funds from the owner to the recipient, consuming the
// owner's allowance for the operator. A false result means either the
// allowance or the owner balance could not cover the amount.
func (bank *Bank) TransferFrom(ctx context.Context, from escrow.Address, to escrow.Address, amountCents escrow.AmountCents) (bool, error) {
	if amountCents.Int64() < 0 {
		return false, wrapBankError(errorSubjectAllowance, errorCodeDebit, escrow.ErrInvalidAmountCents)
	}
	if amountCents.Int64() == 0 {
		return true, nil
	}
	err := bank.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := consumeAllowance(tx, from, bank.operator, amountCents); err != nil {
			return err
		}
		if err := debit(tx, from, amountCents); err != nil {
			return err
		}
		return credit(tx, to, amountCents)
	})
	if errors.Is(err, errShortFunds) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// debit subtracts from a balance, guarding against overdraw. Zero affected
// rows means the balance was missing or too small.
func debit(tx *gorm.DB, from escrow.Address, amountCents escrow.AmountCents) error {
	result := tx.Model(&TokenAccount{}).
		Where("address = ? and balance_cents >= ?", from.String(), amountCents.Int64()).
		Update("balance_cents", gorm.Expr("balance_cents - ?", amountCents.Int64()))
	if result.Error != nil {
		return wrapBankError(errorSubjectAccount, errorCodeDebit, result.Error)
	}
	if result.RowsAffected == 0 {
		return errShortFunds
	}
	return nil
}

func credit(tx *gorm.DB, to escrow.Address, amountCents escrow.AmountCents) error {
	account := TokenAccount{Address: to.String(), BalanceCents: amountCents.Int64()}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"balance_cents": gorm.Expr("balance_cents + ?", amountCents.Int64())}),
	}).Create(&account).Error
	if err != nil {
		return wrapBankError(errorSubjectAccount, errorCodeCredit, err)
	}
	return nil
}

func consumeAllowance(tx *gorm.DB, owner escrow.Address, spender escrow.Address, amountCents escrow.AmountCents) error {
	result := tx.Model(&TokenAllowance{}).
		Where("owner = ? and spender = ? and amount_cents >= ?", owner.String(), spender.String(), amountCents.Int64()).
		Update("amount_cents", gorm.Expr("amount_cents - ?", amountCents.Int64()))
	if result.Error != nil {
		return wrapBankError(errorSubjectAllowance, errorCodeDebit, result.Error)
	}
	if result.RowsAffected == 0 {
		return errShortFunds
	}
	return nil
}

func wrapBankError(subject string, code string, err error) error {
	return escrow.WrapError(errorOperationBank, subject, code, err)
}
