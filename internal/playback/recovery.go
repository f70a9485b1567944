// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package playback

// Action is what the controller does about a fault.
type Action string

const (
	ActionNone         Action = "none"
	ActionResumeLoad   Action = "resume_load"
	ActionRecoverMedia Action = "recover_media"
	ActionRebuild      Action = "rebuild"
)

const DefaultMaxInPlaceRecoveries = 3

// RecoveryPolicy triages faults for one attachment. In-place recoveries
// (resume load, recover media) are budgeted. Once the budget is spent the
// next fatal fault escalates to a rebuild, network faults included.
type RecoveryPolicy struct {
	max  int
	used int
}

// NewRecoveryPolicy returns a policy allowing limit in-place recoveries.
// Zero or less selects DefaultMaxInPlaceRecoveries.
func NewRecoveryPolicy(limit int) *RecoveryPolicy {
	if limit <= 0 {
		limit = DefaultMaxInPlaceRecoveries
	}
	return &RecoveryPolicy{max: limit}
}

// Decide returns the action for f and consumes budget for in-place actions.
func (p *RecoveryPolicy) Decide(f Fault) Action {
	if !f.Fatal {
		return ActionNone
	}

	var action Action
	switch f.Kind {
	case FaultNetwork:
		action = ActionResumeLoad
	case FaultMedia:
		action = ActionRecoverMedia
	default:
		return ActionRebuild
	}

	if p.used >= p.max {
		return ActionRebuild
	}
	p.used++
	return action
}

// Remaining reports the unspent in-place budget.
func (p *RecoveryPolicy) Remaining() int {
	return p.max - p.used
}
