package model

// Tier is one rung of a tier ladder.
type Tier struct {
	ID                     string   `json:"Id,omitempty"`
	Name                   string   `json:"Name"`
	SequenceNumber         int      `json:"SequenceNumber"`
	MinimumEligibleBalance float64  `json:"MinimumEligibleBalance"`
	MaximumEligibleBalance *float64 `json:"MaximumEligibleBalance"`
	TierGroupID            string   `json:"LoyaltyTierGroupId,omitempty"`
}

// TierAssignment is an account's active tier.
type TierAssignment struct {
	ID             string `json:"Id,omitempty"`
	TierID         string `json:"LoyaltyTierId,omitempty"`
	Tier           *Tier  `json:"LoyaltyTier"`
	EffectiveDate  *Date  `json:"EffectiveDate,omitempty"`
	ExpirationDate *Date  `json:"TierExpirationDate,omitempty"`
}

func (a *TierAssignment) TierName() string {
	if a == nil || a.Tier == nil {
		return ""
	}
	return a.Tier.Name
}

func (a *TierAssignment) TierGroupID() string {
	if a == nil || a.Tier == nil {
		return ""
	}
	return a.Tier.TierGroupID
}
