package enums

import "testing"

func TestModerationStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    ModerationStatus
		to      ModerationStatus
		allowed bool
	}{
		{name: "pending to approved", from: ModerationStatusPending, to: ModerationStatusApproved, allowed: true},
		{name: "pending to flagged", from: ModerationStatusPending, to: ModerationStatusFlagged, allowed: true},
		{name: "pending to rejected", from: ModerationStatusPending, to: ModerationStatusRejected, allowed: true},
		{name: "flagged to approved", from: ModerationStatusFlagged, to: ModerationStatusApproved, allowed: true},
		{name: "flagged to rejected", from: ModerationStatusFlagged, to: ModerationStatusRejected, allowed: true},
		{name: "flagged back to pending", from: ModerationStatusFlagged, to: ModerationStatusPending, allowed: false},
		{name: "approved to rejected", from: ModerationStatusApproved, to: ModerationStatusRejected, allowed: false},
		{name: "rejected to approved", from: ModerationStatusRejected, to: ModerationStatusApproved, allowed: false},
		{name: "same status", from: ModerationStatusPending, to: ModerationStatusPending, allowed: false},
		{name: "unknown status", from: ModerationStatus("bogus"), to: ModerationStatusApproved, allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.allowed {
				t.Fatalf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}
