package model

type ProgramCurrency struct {
	Name                 string `json:"Name"`
	IsQualifyingCurrency bool   `json:"IsQualifyingCurrency"`
}

// CurrencyBalance is one point ledger of an account.
type CurrencyBalance struct {
	ID              string           `json:"Id,omitempty"`
	AccountID       string           `json:"LoyaltyMemberId,omitempty"`
	PointsBalance   *float64         `json:"PointsBalance"`
	ProgramCurrency *ProgramCurrency `json:"LoyaltyProgramCurrency"`
}

func (b CurrencyBalance) CurrencyName() string {
	if b.ProgramCurrency == nil {
		return ""
	}
	return b.ProgramCurrency.Name
}

func (b CurrencyBalance) IsQualifying() bool {
	return b.ProgramCurrency != nil && b.ProgramCurrency.IsQualifyingCurrency
}

// Balance returns the numeric balance, treating a missing value as zero.
func (b CurrencyBalance) Balance() float64 {
	if b.PointsBalance == nil {
		return 0
	}
	return *b.PointsBalance
}
