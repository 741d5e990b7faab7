package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultDepositPercentage applies when no settings row exists yet.
var DefaultDepositPercentage = decimal.NewFromInt(50)

// SiteSettings is the single-row shop configuration: the deposit
// percentage captured onto new orders and the payment/shipping details
// rendered into customer emails.
type SiteSettings struct {
	DepositPercentage   decimal.Decimal
	ShippingCost        decimal.Decimal
	BankTransferAccount string
	MobileWalletNumber  string
	UpdatedAt           time.Time
}
