package model

const (
	MemberTypeIndividual = "Individual"
	MemberTypeGroup      = "Group"
)

type Contact struct {
	Name  string `json:"Name"`
	Email string `json:"Email,omitempty"`
}

type ProgramRef struct {
	Name string `json:"Name"`
}

// Account is a loyalty program member record.
type Account struct {
	ID               string      `json:"Id"`
	MembershipNumber string      `json:"MembershipNumber"`
	MemberStatus     string      `json:"MemberStatus"`
	MemberType       string      `json:"MemberType"`
	ContactID        string      `json:"ContactId,omitempty"`
	Contact          *Contact    `json:"Contact,omitempty"`
	ProgramID        string      `json:"ProgramId,omitempty"`
	Program          *ProgramRef `json:"Program,omitempty"`
}

func (a Account) IsGroup() bool {
	return a.MemberType == MemberTypeGroup
}

// ContactName returns the linked contact's name or "".
func (a Account) ContactName() string {
	if a.Contact == nil {
		return ""
	}
	return a.Contact.Name
}

func (a Account) ProgramName() string {
	if a.Program == nil {
		return ""
	}
	return a.Program.Name
}

// Ref returns the short reference used for household owners.
func (a Account) Ref() AccountRef {
	return AccountRef{
		ID:               a.ID,
		MembershipNumber: a.MembershipNumber,
		Name:             a.ContactName(),
		MemberType:       a.MemberType,
	}
}

// AccountRef identifies an account without the full record.
type AccountRef struct {
	ID               string `json:"id"`
	MembershipNumber string `json:"membership_number"`
	Name             string `json:"name"`
	MemberType       string `json:"member_type,omitempty"`
}
