package conversation

import "strings"

// Classifier labels a piece of text. Implementations here are keyword
// heuristics: cheap, probabilistic, and deliberately swappable for a
// model-graded classifier without touching the call state machine.
type Classifier interface {
	Classify(text string) string
}

// Intent labels.
const (
	IntentSchedule    = "schedule"
	IntentInformation = "information"
	IntentConfirm     = "confirm"
	IntentCancel      = "cancel"
	IntentReschedule  = "reschedule"
	IntentGeneral     = "general"
)

// Outcome labels.
const (
	OutcomePositive = "positive"
	OutcomeNegative = "negative"
	OutcomeNeutral  = "neutral"
)

// IntentClassifier maps an utterance to a small fixed intent vocabulary.
// First match wins; order puts the more specific intents ahead of the
// generic ones.
type IntentClassifier struct{}

func (IntentClassifier) Classify(text string) string {
	t := strings.ToLower(text)
	switch {
	case containsAny(t, "reschedule", "move the appointment", "different time", "another time"):
		return IntentReschedule
	case containsAny(t, "cancel", "call it off", "no longer need"):
		return IntentCancel
	case containsAny(t, "book", "schedule", "appointment", "reservation", "set up a time"):
		return IntentSchedule
	case containsAny(t, "confirm", "verify", "double-check", "make sure"):
		return IntentConfirm
	case containsAny(t, "how much", "what time", "when do", "do you know", "what is", "information", "opening hours", "availability"):
		return IntentInformation
	default:
		return IntentGeneral
	}
}

// OutcomeClassifier scans for confirmation phrases in a transcript. It
// backs the success heuristic; see the call result policy for how the
// labels combine with duration thresholds.
type OutcomeClassifier struct{}

var positivePhrases = []string{
	"scheduled for",
	"booked",
	"confirmed",
	"see you then",
	"sounds good",
	"that works",
	"all set",
	"we have you down",
	"appointment is set",
	"perfect, thank",
}

var negativePhrases = []string{
	"not interested",
	"don't call",
	"do not call",
	"wrong number",
	"can't help",
	"cannot help",
	"no availability",
	"fully booked",
	"remove me",
	"stop calling",
}

func (OutcomeClassifier) Classify(text string) string {
	t := strings.ToLower(text)
	if containsAny(t, negativePhrases...) {
		return OutcomeNegative
	}
	if containsAny(t, positivePhrases...) {
		return OutcomePositive
	}
	return OutcomeNeutral
}

var closingPhrases = []string{
	"goodbye",
	"good bye",
	"have a great day",
	"have a nice day",
	"have a wonderful day",
	"take care",
	"thanks for your time",
	"thank you for your time",
	"talk to you later",
}

// IsClosing reports whether the AI's own output reads like a farewell,
// which ends the conversation.
func IsClosing(text string) bool {
	return containsAny(strings.ToLower(text), closingPhrases...)
}

var uncertaintyPhrases = []string{
	"i don't have that information",
	"i do not have that information",
	"i'm not sure",
	"i am not sure",
	"let me check",
	"i'll have to check",
	"i will have to check",
	"i'd have to ask",
	"i don't know",
	"i do not know",
}

// IsUncertain reports whether an AI utterance admits it lacks an answer.
func IsUncertain(text string) bool {
	return containsAny(strings.ToLower(text), uncertaintyPhrases...)
}

var assistQuestionPhrases = []string{
	"how much",
	"what's the price",
	"what is the price",
	"what does it cost",
	"what time",
	"when are you",
	"when is",
	"are you available",
	"availability",
	"do you have an opening",
}

// IsAssistQuestion reports whether a human utterance matches a question
// pattern (price, time, availability) that typically needs operator input.
func IsAssistQuestion(text string) bool {
	return containsAny(strings.ToLower(text), assistQuestionPhrases...)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
