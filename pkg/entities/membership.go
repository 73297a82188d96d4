package entities

type Membership int

const (
	MembershipLookupFailed Membership = iota
	MembershipNotMember
	MembershipMember
)

func (m Membership) String() string {
	switch m {
	case MembershipMember:
		return "member"
	case MembershipNotMember:
		return "not_member"
	default:
		return "lookup_failed"
	}
}
