package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"callpilot/internal/errlog"

	openai "github.com/sashabaranov/go-openai"
)

// chatClient is the slice of the OpenAI client the engine uses.
// *openai.Client satisfies it; tests substitute a fake.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Request carries everything the engine needs for one turn. History is
// rebuilt from the persisted transcript by the caller; the engine itself
// holds no per-call state between invocations.
type Request struct {
	History           []Turn
	CallGoal          string
	RecipientName     string
	AdditionalContext string

	// LatestInput is the recognized speech for this turn. Empty on the
	// opening turn (the call was just answered).
	LatestInput string

	// OperatorAnswers are privileged answers supplied by a human operator
	// for earlier assistance requests, injected into this turn.
	OperatorAnswers []string
}

// Response is the engine's decision for one turn.
type Response struct {
	Text            string
	ShouldContinue  bool
	Intent          string
	NeedsAssistance bool

	// AssistanceQuestion is the customer utterance to surface to an
	// operator when NeedsAssistance is set.
	AssistanceQuestion string
}

// Fixed utterances. The engine must always produce something speakable:
// a model failure degrades to a clarification request, never to silence.
const (
	fallbackUtterance = "I'm sorry, I didn't quite catch that. Could you please repeat it?"
	ceilingUtterance  = "Thank you so much for your time. I'll follow up another way if needed. Have a great day, goodbye."
)

// Engine produces the next AI utterance for a call.
type Engine struct {
	chat    chatClient
	model   string
	timeout time.Duration

	maxHumanTurns int

	reporter *errlog.Reporter
	intents  Classifier
}

func NewEngine(apiKey, model string, timeout time.Duration, maxHumanTurns int, reporter *errlog.Reporter) *Engine {
	return &Engine{
		chat:          openai.NewClient(apiKey),
		model:         model,
		timeout:       timeout,
		maxHumanTurns: maxHumanTurns,
		reporter:      reporter,
		intents:       IntentClassifier{},
	}
}

// Respond generates the next utterance and end-of-call decision.
//
// Failure policy: if the model call fails after retries, the turn degrades
// to a fixed clarification utterance with ShouldContinue=true. A turn never
// propagates a model error to the webhook boundary.
func (e *Engine) Respond(ctx context.Context, req Request) Response {
	intent := e.intents.Classify(req.LatestInput)

	// Turn ceiling bounds worst-case call length regardless of model output.
	if HumanTurns(req.History) >= e.maxHumanTurns {
		return Response{
			Text:           ceilingUtterance,
			ShouldContinue: false,
			Intent:         intent,
		}
	}

	text, err := e.complete(ctx, req)
	if err != nil {
		return Response{
			Text:           fallbackUtterance,
			ShouldContinue: true,
			Intent:         intent,
		}
	}

	resp := Response{
		Text:           text,
		ShouldContinue: !IsClosing(text),
		Intent:         intent,
	}

	// Assistance: either the model admits uncertainty, or the human asked a
	// price/time/availability question right after an uncertain AI turn.
	if IsUncertain(text) {
		resp.NeedsAssistance = true
		resp.AssistanceQuestion = req.LatestInput
	} else if IsAssistQuestion(req.LatestInput) && lastAITurnUncertain(req.History) {
		resp.NeedsAssistance = true
		resp.AssistanceQuestion = req.LatestInput
	}
	if resp.AssistanceQuestion == "" && resp.NeedsAssistance {
		resp.AssistanceQuestion = text
	}

	return resp
}

func (e *Engine) complete(ctx context.Context, req Request) (string, error) {
	messages := e.buildMessages(req)

	var out string
	err := e.reporter.Retry(ctx, "ai completion", func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		resp, err := e.chat.CreateChatCompletion(attemptCtx, openai.ChatCompletionRequest{
			Model:       e.model,
			Messages:    messages,
			MaxTokens:   150,
			Temperature: 0.6,
		})
		if err != nil {
			return errlog.Tag(errlog.TypeAI, err)
		}
		if len(resp.Choices) == 0 {
			return errlog.Tag(errlog.TypeAI, fmt.Errorf("completion returned no choices"))
		}
		out = strings.TrimSpace(resp.Choices[0].Message.Content)
		if out == "" {
			return errlog.Tag(errlog.TypeAI, fmt.Errorf("completion returned empty text"))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func (e *Engine) buildMessages(req Request) []openai.ChatCompletionMessage {
	var sys strings.Builder
	sys.WriteString("You are a polite phone assistant making an outbound call on behalf of a client.\n")
	fmt.Fprintf(&sys, "You are speaking with %s.\n", orUnknown(req.RecipientName))
	fmt.Fprintf(&sys, "Goal of the call: %s.\n", req.CallGoal)
	if req.AdditionalContext != "" {
		fmt.Fprintf(&sys, "Additional context: %s\n", req.AdditionalContext)
	}
	sys.WriteString("Keep each reply to one or two short spoken sentences. ")
	sys.WriteString("When the goal is reached or the conversation has naturally concluded, say a brief goodbye. ")
	sys.WriteString("If you are asked something you do not know, say you don't have that information.")

	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: sys.String()},
	}

	if len(req.OperatorAnswers) > 0 {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "A human operator supplied these answers to earlier questions; use them:\n- " + strings.Join(req.OperatorAnswers, "\n- "),
		})
	}

	for _, t := range req.History {
		role := openai.ChatMessageRoleAssistant
		if t.Speaker == SpeakerHuman {
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}

	if req.LatestInput != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.LatestInput})
	} else if len(req.History) == 0 {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: "(The call was just answered. Greet the recipient and state why you are calling.)",
		})
	}

	return msgs
}

func lastAITurnUncertain(history []Turn) bool {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Speaker == SpeakerAI {
			return IsUncertain(history[i].Text)
		}
	}
	return false
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "the recipient"
	}
	return s
}
