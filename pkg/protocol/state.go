package protocol

// ActionState describes the lifecycle of a submitted remote command. Commands are accepted
// immediately by the vendor backend but execute on the vehicle over its cellular link, so the
// client observes progress by polling.
type ActionState string

const (
	StatePending    ActionState = "PENDING"     // submitted, correlation id issued, no completion confirmed
	StateInProgress ActionState = "IN_PROGRESS" // vendor backend reports the command was relayed to the vehicle
	StateSucceeded  ActionState = "SUCCEEDED"
	StateFailed     ActionState = "FAILED"
	StateTimedOut   ActionState = "TIMED_OUT" // client-side give-up; the vendor command may still complete later
)

// Terminal reports whether no further transitions can occur.
func (s ActionState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut:
		return true
	}
	return false
}

// PollResult is the region-profile-decoded outcome of one action-status poll. The vendor payloads
// differ per region; profiles reduce them to this common shape.
type PollResult struct {
	// Done reports the vehicle finished executing the command.
	Done bool
	// Failed qualifies Done: the vehicle reported it could not execute the command.
	Failed bool
	// Relayed reports the backend delivered the command to the vehicle, which is still executing it.
	Relayed bool
	// Reason carries the vendor's failure description, if any.
	Reason string
}

// NextState returns the state a command moves to after observing r. Terminal states are absorbing.
// Unrecognized poll payloads decode to a zero PollResult and leave the state unchanged rather than
// failing the command.
func NextState(current ActionState, r PollResult) ActionState {
	if current.Terminal() {
		return current
	}
	switch {
	case r.Done && r.Failed:
		return StateFailed
	case r.Done:
		return StateSucceeded
	case r.Relayed:
		return StateInProgress
	}
	return current
}
