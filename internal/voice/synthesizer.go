// Package voice converts response text into audio through an external
// speech provider. When the provider is unreachable or unconfigured the
// caller falls back to the telephony gateway's built-in voice, so a failed
// synthesis never fails a call turn.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"callpilot/internal/errlog"
)

// ErrUnavailable means the provider could not produce audio after retries
// (or no provider is configured). Callers should use the gateway voice.
var ErrUnavailable = errors.New("voice: synthesis unavailable")

const elevenLabsBaseURL = "https://api.elevenlabs.io/v1"

// Clip is one synthesized utterance.
type Clip struct {
	Audio    []byte
	MIMEType string

	// EstimatedDuration is a word-rate estimate of the spoken length, used
	// for gather timeouts. It is not derived from the audio itself.
	EstimatedDuration time.Duration
}

// Synthesizer calls the ElevenLabs text-to-speech API.
//
// The adapter deliberately uses plain net/http: the API surface we need is
// a single POST per utterance.
type Synthesizer struct {
	apiKey  string
	voiceID string
	baseURL string

	httpClient *http.Client
	reporter   *errlog.Reporter
}

func NewSynthesizer(apiKey, voiceID string, timeout time.Duration, reporter *errlog.Reporter) *Synthesizer {
	return &Synthesizer{
		apiKey:     apiKey,
		voiceID:    voiceID,
		baseURL:    elevenLabsBaseURL,
		httpClient: &http.Client{Timeout: timeout},
		reporter:   reporter,
	}
}

// Configured reports whether a provider key is present. Unconfigured
// synthesis always falls back.
func (s *Synthesizer) Configured() bool {
	return s.apiKey != "" && s.voiceID != ""
}

type synthesisRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize normalizes text and produces audio bytes. Rate-limit and
// transient failures are retried per the shared policy; exhaustion returns
// ErrUnavailable so the caller can degrade to the gateway voice.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (Clip, error) {
	text = NormalizeText(text)
	if text == "" {
		return Clip{}, fmt.Errorf("voice: empty text")
	}
	if !s.Configured() {
		return Clip{}, ErrUnavailable
	}

	body, err := json.Marshal(synthesisRequest{Text: text, ModelID: "eleven_turbo_v2"})
	if err != nil {
		return Clip{}, err
	}

	var audio []byte
	err = s.reporter.Retry(ctx, "voice synthesis", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			fmt.Sprintf("%s/text-to-speech/%s", s.baseURL, s.voiceID), bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "audio/mpeg")
		req.Header.Set("xi-api-key", s.apiKey)

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return errlog.Tag(errlog.TypeNetwork, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			err := fmt.Errorf("voice: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				// Retryable.
				return errlog.Tag(errlog.TypeAPI, err)
			}
			// Other 4xx: the request itself is bad, retrying cannot help.
			return errlog.Permanent(errlog.Tag(errlog.TypeVoice, err))
		}

		audio, err = io.ReadAll(resp.Body)
		if err != nil {
			return errlog.Tag(errlog.TypeNetwork, err)
		}
		if len(audio) == 0 {
			return errlog.Tag(errlog.TypeVoice, errors.New("voice: empty audio response"))
		}
		return nil
	})
	if err != nil {
		return Clip{}, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}

	return Clip{
		Audio:             audio,
		MIMEType:          "audio/mpeg",
		EstimatedDuration: EstimateSpeechDuration(text),
	}, nil
}

// wordsPerMinute approximates a neutral TTS speaking rate.
const wordsPerMinute = 150

// EstimateSpeechDuration estimates how long text takes to speak, floored
// at one second.
func EstimateSpeechDuration(text string) time.Duration {
	words := len(strings.Fields(text))
	if words == 0 {
		return time.Second
	}
	d := time.Duration(float64(words) / wordsPerMinute * float64(time.Minute))
	if d < time.Second {
		d = time.Second
	}
	return d
}

var symbolReplacer = strings.NewReplacer(
	"&", " and ",
	"%", " percent ",
	"+", " plus ",
	"@", " at ",
	"*", "",
	"_", "",
	"#", "",
	"`", "",
	"~", "",
)

// NormalizeText strips markup artifacts the model may emit and expands
// symbols that TTS engines mispronounce.
func NormalizeText(s string) string {
	s = symbolReplacer.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
