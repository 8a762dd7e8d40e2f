package calls

import (
	"fmt"
	"strings"
	"time"

	"callpilot/internal/conversation"
)

// ResultPolicy computes success/failure at the terminal transition.
//
// This is a best-effort classifier, not a guarantee: duration floors and
// keyword scans can misjudge short successful calls or long unsuccessful
// ones. The outcome classifier is pluggable so a model-graded judgment can
// replace the keyword scan without touching the state machine.
type ResultPolicy struct {
	// MinDuration below which any call is considered failed.
	MinDuration time.Duration

	// PositiveMinDuration is the floor for transcript-confirmed success.
	PositiveMinDuration time.Duration

	Outcome conversation.Classifier
}

func DefaultResultPolicy() ResultPolicy {
	return ResultPolicy{
		MinDuration:         15 * time.Second,
		PositiveMinDuration: 20 * time.Second,
		Outcome:             conversation.OutcomeClassifier{},
	}
}

var causeMessages = map[string]string{
	CauseBusy:     "recipient line was busy",
	CauseNoAnswer: "recipient did not answer",
	CauseCanceled: "call was canceled",
	CauseFailed:   "call could not be connected",
	CauseMachine:  "reached an answering machine",
	CauseTimeout:  "call timed out",
}

// negativeCauses always classify as failure regardless of duration or
// transcript content.
func isNegativeCause(cause string) bool {
	_, ok := causeMessages[cause]
	return ok
}

// Classify applies the ordered policy:
//
//	(a) hangup cause in the known-negative set  -> fail
//	(b) duration below the minimum floor        -> fail
//	(c) transcript keyword scan                 -> positive match, no
//	    negative match, duration above the positive floor -> success
//	(d) no transcript: duration against a goal-specific threshold
func (p ResultPolicy) Classify(rec CallRecord, cause string, durationSeconds int) CallResult {
	res := CallResult{
		Transcript: rec.Transcript,
	}

	dur := time.Duration(durationSeconds) * time.Second

	if isNegativeCause(cause) {
		res.Message = causeMessages[cause]
		res.Sentiment = conversation.OutcomeNeutral
		return res
	}

	if dur < p.MinDuration {
		res.Message = "call too short to achieve its goal"
		res.Details = fmt.Sprintf("lasted %ds, below the %ds minimum", durationSeconds, int(p.MinDuration.Seconds()))
		res.Sentiment = conversation.OutcomeNeutral
		return res
	}

	if rec.Transcript != "" {
		label := p.Outcome.Classify(rec.Transcript)
		res.Sentiment = label
		switch {
		case label == conversation.OutcomeNegative:
			res.Message = "goal was not achieved"
			res.Details = "the conversation contained a negative confirmation"
			return res
		case label == conversation.OutcomePositive && dur >= p.PositiveMinDuration:
			res.Success = true
			res.Message = "goal achieved"
			res.Details = "positive confirmation found in the conversation"
			res.ObjectivesMet = []string{rec.CallGoal}
			return res
		default:
			res.Message = "outcome unclear"
			res.Details = "no clear confirmation found in the conversation"
			return res
		}
	}

	// No transcript: duration against a goal-specific threshold.
	threshold := goalDurationThreshold(rec.CallGoal)
	res.Sentiment = conversation.OutcomeNeutral
	if dur >= threshold {
		res.Success = true
		res.Message = "call completed"
		res.Details = fmt.Sprintf("lasted %ds, consistent with the goal", durationSeconds)
		res.ObjectivesMet = []string{rec.CallGoal}
	} else {
		res.Message = "call likely ended before the goal was reached"
		res.Details = fmt.Sprintf("lasted %ds, below the %ds expected for this goal", durationSeconds, int(threshold.Seconds()))
	}
	return res
}

// goalDurationThreshold scales the expected call length with goal
// complexity: asking for information is quicker than booking something.
func goalDurationThreshold(goal string) time.Duration {
	g := strings.ToLower(goal)
	switch {
	case strings.Contains(g, "book") || strings.Contains(g, "schedule") || strings.Contains(g, "appointment") || strings.Contains(g, "reservation"):
		return 45 * time.Second
	case strings.Contains(g, "information") || strings.Contains(g, "ask") || strings.Contains(g, "find out") || strings.Contains(g, "check"):
		return 25 * time.Second
	default:
		return 30 * time.Second
	}
}
