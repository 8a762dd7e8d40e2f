package calls

import (
	"strings"
	"testing"
)

func TestClassifyBusyIsAlwaysFailure(t *testing.T) {
	p := DefaultResultPolicy()
	rec := CallRecord{CallGoal: "Book appointment"}
	res := p.Classify(rec, CauseBusy, 3)
	if res.Success {
		t.Fatalf("busy call classified as success")
	}
	if res.Message != "recipient line was busy" {
		t.Fatalf("message = %q", res.Message)
	}
}

func TestClassifyTimeout(t *testing.T) {
	p := DefaultResultPolicy()
	res := p.Classify(CallRecord{CallGoal: "Book appointment"}, CauseTimeout, 121)
	if res.Success {
		t.Fatalf("timed-out call classified as success")
	}
	if res.Message != "call timed out" {
		t.Fatalf("message = %q", res.Message)
	}
}

func TestClassifyTooShort(t *testing.T) {
	p := DefaultResultPolicy()
	res := p.Classify(CallRecord{CallGoal: "Book appointment"}, CauseNormal, 10)
	if res.Success {
		t.Fatalf("10s call classified as success")
	}
	if !strings.Contains(res.Message, "too short") {
		t.Fatalf("message = %q", res.Message)
	}
}

func TestClassifyPositiveTranscript(t *testing.T) {
	p := DefaultResultPolicy()
	rec := CallRecord{
		CallGoal:   "Book appointment",
		Transcript: "AI: I'd like to book an appointment.\nHuman: Sure, you're scheduled for Tuesday at 3pm.",
	}
	res := p.Classify(rec, CauseNormal, 40)
	if !res.Success {
		t.Fatalf("expected success, got %q / %q", res.Message, res.Details)
	}
	if len(res.ObjectivesMet) != 1 || res.ObjectivesMet[0] != "Book appointment" {
		t.Fatalf("objectives = %v", res.ObjectivesMet)
	}
}

func TestClassifyNegativeTranscriptWins(t *testing.T) {
	p := DefaultResultPolicy()
	rec := CallRecord{
		CallGoal:   "Book appointment",
		Transcript: "AI: Can I book a table?\nHuman: Sorry, we're fully booked, not possible this week.",
	}
	res := p.Classify(rec, CauseNormal, 60)
	if res.Success {
		t.Fatalf("negative transcript classified as success")
	}
}

func TestClassifyPositiveButTooBrief(t *testing.T) {
	p := DefaultResultPolicy()
	rec := CallRecord{
		CallGoal:   "Book appointment",
		Transcript: "Human: Yes, confirmed.",
	}
	res := p.Classify(rec, CauseNormal, 16)
	if res.Success {
		t.Fatalf("16s call should not pass the positive-confirmation floor")
	}
}

func TestClassifyNoTranscriptUsesGoalThreshold(t *testing.T) {
	p := DefaultResultPolicy()

	// A booking goal expects a longer call than an information request.
	book := p.Classify(CallRecord{CallGoal: "Book a table for two"}, CauseNormal, 30)
	if book.Success {
		t.Fatalf("30s booking call without transcript classified as success")
	}
	info := p.Classify(CallRecord{CallGoal: "Ask for opening hours information"}, CauseNormal, 30)
	if !info.Success {
		t.Fatalf("30s information call without transcript classified as failure: %q", info.Message)
	}
}

func TestCauseMessages(t *testing.T) {
	cases := map[string]string{
		CauseNoAnswer: "recipient did not answer",
		CauseMachine:  "reached an answering machine",
		CauseFailed:   "call could not be connected",
		CauseCanceled: "call was canceled",
	}
	p := DefaultResultPolicy()
	for cause, want := range cases {
		res := p.Classify(CallRecord{CallGoal: "anything"}, cause, 0)
		if res.Success || res.Message != want {
			t.Fatalf("cause %s: got (%v, %q), want (false, %q)", cause, res.Success, res.Message, want)
		}
	}
}
