package conversation

import (
	"strings"
	"time"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerAI    Speaker = "ai"
	SpeakerHuman Speaker = "human"
)

// Turn is one utterance in a call. The ordered turn sequence is the
// internal conversation representation; the flat transcript string is only
// its serialization at the persistence boundary.
type Turn struct {
	Timestamp time.Time `json:"timestamp"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`

	// Confidence is the recognizer's confidence in [0,1] for human turns;
	// zero when not reported.
	Confidence float64 `json:"confidence,omitempty"`
}

const (
	aiLinePrefix    = "AI: "
	humanLinePrefix = "Human: "
)

// FormatTranscript serializes turns as "AI: ..." / "Human: ..." lines.
// Newlines inside an utterance are flattened to spaces so the line
// structure survives the round trip.
func FormatTranscript(turns []Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		switch t.Speaker {
		case SpeakerHuman:
			b.WriteString(humanLinePrefix)
		default:
			b.WriteString(aiLinePrefix)
		}
		b.WriteString(flatten(t.Text))
	}
	return b.String()
}

// ParseTranscript is the inverse of FormatTranscript on (speaker, text)
// pairs. Lines without a known prefix are treated as continuations of the
// previous turn; leading junk lines are skipped.
func ParseTranscript(s string) []Turn {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var turns []Turn
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, aiLinePrefix):
			turns = append(turns, Turn{Speaker: SpeakerAI, Text: strings.TrimPrefix(line, aiLinePrefix)})
		case strings.HasPrefix(line, humanLinePrefix):
			turns = append(turns, Turn{Speaker: SpeakerHuman, Text: strings.TrimPrefix(line, humanLinePrefix)})
		default:
			if len(turns) == 0 {
				continue
			}
			turns[len(turns)-1].Text += " " + line
		}
	}
	return turns
}

// HumanTurns counts utterances by the called party.
func HumanTurns(turns []Turn) int {
	n := 0
	for _, t := range turns {
		if t.Speaker == SpeakerHuman {
			n++
		}
	}
	return n
}

func flatten(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.Join(strings.Fields(s), " ")
}
