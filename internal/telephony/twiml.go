package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"time"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.
//
// Only the verbs the orchestrator emits are modeled: speak an utterance
// (Say or Play), gather speech input, hang up.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlPlay struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

type twimlGather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr"`
	Timeout       int      `xml:"timeout,attr,omitempty"`
	SpeechTimeout string   `xml:"speechTimeout,attr,omitempty"`
	Verbs         []any    `xml:",any"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

// defaultVoice is the gateway's built-in voice used when synthesis falls
// back to Say.
const defaultVoice = "alice"

// TurnInstruction describes the markup for one conversation turn: speak
// the utterance, then (unless the call is ending) gather the reply.
type TurnInstruction struct {
	// Text is spoken via the gateway voice when AudioURL is empty.
	Text string

	// AudioURL points at a synthesized clip; preferred over Text.
	AudioURL string

	// GatherActionURL receives the recognized reply. Required unless
	// EndCall is set.
	GatherActionURL string

	// GatherTimeout is the silence window after the prompt.
	GatherTimeout time.Duration

	// EndCall appends Hangup instead of a Gather.
	EndCall bool
}

// RenderTurn maps a TurnInstruction to TwiML.
func RenderTurn(in TurnInstruction) (string, error) {
	if in.Text == "" && in.AudioURL == "" {
		return "", errors.New("telephony: turn requires text or audio")
	}

	speak := func() any {
		if in.AudioURL != "" {
			return twimlPlay{URL: in.AudioURL}
		}
		return twimlSay{Voice: defaultVoice, Text: in.Text}
	}

	var r twimlResponse
	if in.EndCall {
		r.Verbs = append(r.Verbs, speak(), twimlHangup{})
		return renderTwiML(r)
	}

	if in.GatherActionURL == "" {
		return "", errors.New("telephony: gather action URL required for a continuing turn")
	}
	timeout := int(in.GatherTimeout.Seconds())
	if timeout <= 0 {
		timeout = 5
	}
	r.Verbs = append(r.Verbs, twimlGather{
		Input:         "speech",
		Action:        in.GatherActionURL,
		Method:        "POST",
		Timeout:       timeout,
		SpeechTimeout: "auto",
		Verbs:         []any{speak()},
	})
	// If the gather times out with no speech, end the call gracefully
	// rather than looping forever.
	r.Verbs = append(r.Verbs,
		twimlSay{Voice: defaultVoice, Text: "I didn't hear anything. Goodbye."},
		twimlHangup{},
	)
	return renderTwiML(r)
}

// RenderHangup produces markup that immediately ends the call, used when
// machine detection reports an answering machine.
func RenderHangup() string {
	out, _ := renderTwiML(twimlResponse{Verbs: []any{twimlHangup{}}})
	return out
}

// RenderClarification is the safe response when turn handling failed:
// ask the party to repeat and gather again.
func RenderClarification(gatherActionURL string) string {
	r := twimlResponse{Verbs: []any{
		twimlGather{
			Input:         "speech",
			Action:        gatherActionURL,
			Method:        "POST",
			Timeout:       5,
			SpeechTimeout: "auto",
			Verbs: []any{twimlSay{
				Voice: defaultVoice,
				Text:  "I'm sorry, could you say that again?",
			}},
		},
		twimlHangup{},
	}}
	out, _ := renderTwiML(r)
	return out
}

func renderTwiML(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// GatherTimeoutForSpeech pads the reply window after a prompt of the given
// spoken length.
func GatherTimeoutForSpeech(est time.Duration) time.Duration {
	t := 5 * time.Second
	if est > 20*time.Second {
		t = 8 * time.Second
	}
	return t
}
