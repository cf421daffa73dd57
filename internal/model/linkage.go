package model

// LinkedAccount is the account summary embedded in a group relationship.
type LinkedAccount struct {
	MembershipNumber string   `json:"MembershipNumber"`
	MemberType       string   `json:"MemberType,omitempty"`
	Contact          *Contact `json:"Contact,omitempty"`
}

func (l *LinkedAccount) ContactName() string {
	if l == nil || l.Contact == nil {
		return ""
	}
	return l.Contact.Name
}

// GroupLinkage ties a member account to its group owner.
type GroupLinkage struct {
	ID                  string         `json:"Id"`
	OwnerID             string         `json:"LoyaltyProgramGroupMemberId,omitempty"`
	Owner               *LinkedAccount `json:"LoyaltyProgramGroupMember,omitempty"`
	MemberID            string         `json:"RelatedLoyaltyProgramMemberId,omitempty"`
	Member              *LinkedAccount `json:"RelatedLoyaltyProgramMember,omitempty"`
	ContributionPercent *float64       `json:"MemberPointContributionPercent"`
	Role                string         `json:"MemberRole,omitempty"`
}

// OwnerRef describes the group owner side of the linkage.
func (g GroupLinkage) OwnerRef() AccountRef {
	ref := AccountRef{ID: g.OwnerID, MemberType: MemberTypeGroup}
	if g.Owner != nil {
		ref.MembershipNumber = g.Owner.MembershipNumber
		ref.Name = g.Owner.ContactName()
	}
	return ref
}

// MemberRef describes the member side of the linkage.
func (g GroupLinkage) MemberRef() AccountRef {
	ref := AccountRef{ID: g.MemberID}
	if g.Member != nil {
		ref.MembershipNumber = g.Member.MembershipNumber
		ref.Name = g.Member.ContactName()
		ref.MemberType = g.Member.MemberType
	}
	return ref
}
