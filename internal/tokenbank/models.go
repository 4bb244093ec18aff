package tokenbank

// TokenAccount mirrors the token_accounts table.
type TokenAccount struct {
	Address      string `gorm:"primaryKey"`
	BalanceCents int64  `gorm:"not null"`
}

func (TokenAccount) TableName() string { return "token_accounts" }

// TokenAllowance mirrors the token_allowances table. The amount is an
// absolute grant, not a delta; Approve overwrites any previous grant.
type TokenAllowance struct {
	Owner       string `gorm:"primaryKey"`
	Spender     string `gorm:"primaryKey"`
	AmountCents int64  `gorm:"not null"`
}

func (TokenAllowance) TableName() string { return "token_allowances" }
