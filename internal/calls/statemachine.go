package calls

// The call lifecycle:
//
//	preparing -> dialing -> in_progress -> {completed, failed}
//	preparing/dialing -> failed (negative event or dial timeout)
//
// Webhook deliveries are at-least-once and may be reordered, so the
// machine distinguishes "illegal" from "redundant": a redundant event is
// a safe no-op, never an error.

var legalTransitions = map[CallStatus][]CallStatus{
	StatusPreparing:  {StatusDialing, StatusFailed},
	StatusDialing:    {StatusInProgress, StatusFailed},
	StatusInProgress: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to CallStatus) bool {
	for _, t := range legalTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// IsRedundant reports whether applying `to` on a record already at `from`
// must be treated as a no-op: the record already reflects the target, the
// record is terminal, or the event is an echo of an earlier phase
// (e.g. a late "ringing" after the call was answered).
func IsRedundant(from, to CallStatus) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return true
	}
	return phaseRank(to) < phaseRank(from)
}

func phaseRank(s CallStatus) int {
	switch s {
	case StatusPreparing:
		return 0
	case StatusDialing:
		return 1
	case StatusInProgress:
		return 2
	default: // terminal
		return 3
	}
}
