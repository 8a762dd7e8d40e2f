package calls

import (
	"strings"

	"callpilot/internal/telephony"
)

// Hangup causes in the internal vocabulary.
const (
	CauseNormal   = "normal_clearing"
	CauseBusy     = "busy"
	CauseNoAnswer = "no_answer"
	CauseCanceled = "canceled"
	CauseFailed   = "failed"
	CauseMachine  = "machine"
	CauseTimeout  = "timeout"
)

// NormalizedEvent is the state-machine input distilled from a provider
// webhook: the target internal status plus the fields worth persisting.
type NormalizedEvent struct {
	ProviderCallID string
	Status         CallStatus

	// Known is false for event vocabulary we do not recognize. Unknown
	// events are logged and ignored, never errors.
	Known bool

	// Cause is set for terminal events.
	Cause string

	// DurationSeconds is the provider-reported duration; -1 when absent.
	DurationSeconds int

	// MachineDetected means the gateway reported an answering machine;
	// the call should be hung up rather than conversed with.
	MachineDetected bool
}

// MapProviderStatus is the total mapping from the gateway's status
// vocabulary to the internal enum. The second return is false for unknown
// vocabulary.
func MapProviderStatus(providerStatus string) (CallStatus, string, bool) {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "queued", "initiated":
		return StatusDialing, "", true
	case "ringing":
		return StatusDialing, "", true
	case "in-progress", "answered":
		return StatusInProgress, "", true
	case "completed":
		return StatusCompleted, CauseNormal, true
	case "busy":
		return StatusFailed, CauseBusy, true
	case "no-answer":
		return StatusFailed, CauseNoAnswer, true
	case "canceled":
		return StatusFailed, CauseCanceled, true
	case "failed":
		return StatusFailed, CauseFailed, true
	default:
		return "", "", false
	}
}

// NormalizeStatus converts a raw status webhook into a NormalizedEvent.
func NormalizeStatus(form telephony.StatusWebhookForm) NormalizedEvent {
	ev := NormalizedEvent{
		ProviderCallID:  form.CallSid,
		DurationSeconds: form.CallDuration,
	}

	status, cause, known := MapProviderStatus(form.CallStatus)
	ev.Known = known
	if known {
		ev.Status = status
		ev.Cause = cause
	}

	// A SIP final response refines the gateway's generic "failed" status.
	// The other terminal statuses already carry a specific cause.
	if ev.Cause == CauseFailed && form.SipResponseCode != 0 {
		ev.Cause = causeFromSIP(form.SipResponseCode)
	}

	if strings.HasPrefix(form.AnsweredBy, "machine") || form.AnsweredBy == "fax" {
		ev.MachineDetected = true
		// An answered machine still terminates as a failure.
		if ev.Status == StatusInProgress {
			ev.Cause = CauseMachine
		}
	}

	return ev
}

// causeFromSIP maps a SIP final response to a more specific hangup cause
// than the gateway's blanket "failed".
func causeFromSIP(code int) string {
	switch code {
	case 486, 600:
		return CauseBusy
	case 408, 480:
		return CauseNoAnswer
	case 487:
		return CauseCanceled
	default:
		return CauseFailed
	}
}
