package model

type Promotion struct {
	ID                   string `json:"Id"`
	Name                 string `json:"Name"`
	Description          string `json:"Description"`
	StartDate            *Date  `json:"StartDate"`
	EndDate              *Date  `json:"EndDate"`
	IsActive             bool   `json:"IsActive"`
	IsEnrollmentRequired bool   `json:"IsEnrollmentRequired"`
	EnrollmentStartDate  *Date  `json:"EnrollmentStartDate"`
	EnrollmentEndDate    *Date  `json:"EnrollmentEndDate"`
}

// EnrollmentOpen reports whether day falls inside the enrollment window. A
// promotion without an enrollment start date is never open.
func (p Promotion) EnrollmentOpen(day Date) bool {
	if p.EnrollmentStartDate == nil || p.EnrollmentStartDate.After(day) {
		return false
	}
	return p.EnrollmentEndDate == nil || !p.EnrollmentEndDate.Before(day)
}

type PromotionRef struct {
	Name        string `json:"Name"`
	Description string `json:"Description"`
}

type PromotionEnrollment struct {
	ID                 string        `json:"Id"`
	AccountID          string        `json:"LoyaltyProgramMemberId,omitempty"`
	PromotionID        string        `json:"PromotionId"`
	Promotion          *PromotionRef `json:"Promotion,omitempty"`
	IsEnrollmentActive bool          `json:"IsEnrollmentActive"`
}

func (e PromotionEnrollment) PromotionName() string {
	if e.Promotion == nil {
		return ""
	}
	return e.Promotion.Name
}
