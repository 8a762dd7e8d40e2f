package telephony

import (
	"net/http"
	"strconv"
	"strings"
)

// Webhook form parsing for the two callback shapes the gateway sends.
// Twilio posts application/x-www-form-urlencoded by default.
//
// Forward compatibility: only the fields below are read; unknown or extra
// fields are silently ignored, and missing fields parse to zero values.
// Business decisions (state transitions) are not made here.

// StatusWebhookForm is a call lifecycle event.
type StatusWebhookForm struct {
	CallSid    string
	AccountSid string
	From       string
	To         string

	// CallStatus is Twilio's vocabulary: queued, initiated, ringing,
	// in-progress, completed, busy, no-answer, failed, canceled.
	CallStatus string

	// CallDuration is seconds, present on terminal events; -1 when absent.
	CallDuration int

	// AnsweredBy is set when machine detection ran: human, machine_start,
	// machine_end_beep, machine_end_silence, machine_end_other, fax, unknown.
	AnsweredBy string

	// SipResponseCode refines failure causes when present; 0 when absent.
	SipResponseCode int

	Timestamp string
}

// GatherWebhookForm carries recognized speech for one conversation turn.
// SpeechResult is empty on the initial answer fetch (no speech yet).
type GatherWebhookForm struct {
	CallSid      string
	SpeechResult string

	// Confidence is the recognizer confidence in [0,1]; -1 when absent.
	Confidence float64
}

func ParseStatusWebhook(r *http.Request) (StatusWebhookForm, error) {
	if err := r.ParseForm(); err != nil {
		return StatusWebhookForm{}, err
	}
	f := StatusWebhookForm{
		CallSid:      r.PostFormValue("CallSid"),
		AccountSid:   r.PostFormValue("AccountSid"),
		From:         strings.TrimSpace(r.PostFormValue("From")),
		To:           strings.TrimSpace(r.PostFormValue("To")),
		CallStatus:   strings.ToLower(strings.TrimSpace(r.PostFormValue("CallStatus"))),
		AnsweredBy:   strings.ToLower(strings.TrimSpace(r.PostFormValue("AnsweredBy"))),
		Timestamp:    r.PostFormValue("Timestamp"),
		CallDuration: -1,
	}
	if v := r.PostFormValue("CallDuration"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			f.CallDuration = n
		}
	}
	if v := r.PostFormValue("SipResponseCode"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.SipResponseCode = n
		}
	}
	return f, nil
}

func ParseGatherWebhook(r *http.Request) (GatherWebhookForm, error) {
	if err := r.ParseForm(); err != nil {
		return GatherWebhookForm{}, err
	}
	f := GatherWebhookForm{
		CallSid:      r.PostFormValue("CallSid"),
		SpeechResult: strings.TrimSpace(r.PostFormValue("SpeechResult")),
		Confidence:   -1,
	}
	if v := r.PostFormValue("Confidence"); v != "" {
		if c, err := strconv.ParseFloat(v, 64); err == nil && c >= 0 && c <= 1 {
			f.Confidence = c
		}
	}
	return f, nil
}
