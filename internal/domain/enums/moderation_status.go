package enums

type ModerationStatus string

const (
	ModerationStatusPending  ModerationStatus = "pending"
	ModerationStatusApproved ModerationStatus = "approved"
	ModerationStatusFlagged  ModerationStatus = "flagged"
	ModerationStatusRejected ModerationStatus = "rejected"
)

func (s ModerationStatus) Valid() bool {
	switch s {
	case ModerationStatusPending, ModerationStatusApproved, ModerationStatusFlagged, ModerationStatusRejected:
		return true
	}
	return false
}

// CanTransition reports whether a status move is allowed. Statuses only move
// forward out of pending; a manual review may still resolve flagged either way.
func (s ModerationStatus) CanTransition(to ModerationStatus) bool {
	if !s.Valid() || !to.Valid() || s == to {
		return false
	}
	switch s {
	case ModerationStatusPending:
		return to != ModerationStatusPending
	case ModerationStatusFlagged:
		return to == ModerationStatusApproved || to == ModerationStatusRejected
	}
	return false
}
