package calls

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"callpilot/internal/config"
	"callpilot/internal/conversation"
	"callpilot/internal/errlog"
	"callpilot/internal/telephony"
	"callpilot/internal/voice"

	"github.com/google/uuid"
)

var (
	ErrInvalidRequest = errors.New("calls: invalid request")

	// ErrTooManyActive means the concurrency cap rejected the call.
	ErrTooManyActive = errors.New("calls: too many active calls")
)

// TurnEngine produces the next AI utterance for a call.
type TurnEngine interface {
	Respond(ctx context.Context, req conversation.Request) conversation.Response
}

// SpeechSynthesizer renders an utterance to audio. Configured reports
// whether synthesis is available; when false the gateway voice is used.
type SpeechSynthesizer interface {
	Configured() bool
	Synthesize(ctx context.Context, text string) (voice.Clip, error)
}

// ClipStore holds synthesized audio until the gateway fetches it.
type ClipStore interface {
	Store(ctx context.Context, clip voice.Clip) (string, error)
}

// QuestionDesk surfaces questions the AI could not answer to a human
// operator and hands back answers for injection into later turns.
type QuestionDesk interface {
	Raise(ctx context.Context, callID, question, callContext string) error
	ConsumeAnswered(ctx context.Context, callID string) ([]string, error)
}

// Notifier publishes call record changes to live subscribers.
type Notifier interface {
	CallUpdated(ctx context.Context, rec CallRecord)
}

// StartRequest are the operator-supplied call parameters.
type StartRequest struct {
	RecipientName     string `json:"recipient_name" binding:"required"`
	PhoneNumber       string `json:"phone_number" binding:"required"`
	CallGoal          string `json:"call_goal" binding:"required"`
	AdditionalContext string `json:"additional_context"`
}

// Service orchestrates the call lifecycle. It is the only writer of call
// status and results; webhooks, sweeps and reads all funnel through it.
//
// The service holds no per-call state: every invocation loads the record,
// acts, and persists. Conversation history is rebuilt from the stored
// transcript each turn.
type Service struct {
	repo     Repository
	provider telephony.Provider
	engine   TurnEngine
	synth    SpeechSynthesizer
	clips    ClipStore
	desk     QuestionDesk
	notifier Notifier

	slots    SlotLimiter
	reporter *errlog.Reporter
	log      *slog.Logger
	cfg      config.Config

	policy ResultPolicy
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

// ServiceDeps bundles the orchestrator's collaborators. Desk and Notifier
// may be nil; the service degrades to not raising questions and not
// publishing updates.
type ServiceDeps struct {
	Repo     Repository
	Provider telephony.Provider
	Engine   TurnEngine
	Synth    SpeechSynthesizer
	Clips    ClipStore
	Desk     QuestionDesk
	Notifier Notifier

	Slots    SlotLimiter
	Reporter *errlog.Reporter
	Log      *slog.Logger
	Config   config.Config
}

func NewService(d ServiceDeps) *Service {
	return &Service{
		repo:     d.Repo,
		provider: d.Provider,
		engine:   d.Engine,
		synth:    d.Synth,
		clips:    d.Clips,
		desk:     d.Desk,
		notifier: d.Notifier,
		slots:    d.Slots,
		reporter: d.Reporter,
		log:      d.Log,
		cfg:      d.Config,
		policy:   DefaultResultPolicy(),
		clock:    time.Now,
	}
}

// Start validates the request, persists a preparing record, and submits
// the call to the gateway. A gateway failure after retries still yields a
// persisted record, in failed state with a descriptive result.
func (s *Service) Start(ctx context.Context, req StartRequest) (CallRecord, error) {
	if err := validateStart(req); err != nil {
		return CallRecord{}, err
	}

	now := s.clock()
	rec := CallRecord{
		ID:                uuid.NewString(),
		RecipientName:     strings.TrimSpace(req.RecipientName),
		PhoneNumber:       strings.TrimSpace(req.PhoneNumber),
		CallGoal:          strings.TrimSpace(req.CallGoal),
		AdditionalContext: strings.TrimSpace(req.AdditionalContext),
		Status:            StatusPreparing,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		return CallRecord{}, err
	}

	ok, err := s.slots.Acquire(ctx)
	if err != nil {
		s.log.Error("call slot acquire failed", "call_id", rec.ID, "error", err)
		return s.markFailed(ctx, rec, "internal error while starting the call", err.Error())
	}
	if !ok {
		rec, _ = s.markFailed(ctx, rec, "too many calls in progress, try again later", "")
		return rec, ErrTooManyActive
	}

	var placed telephony.PlaceCallResult
	err = s.reporter.Retry(ctx, "place call", func(ctx context.Context) error {
		var perr error
		placed, perr = s.provider.PlaceCall(ctx, telephony.PlaceCallRequest{
			To:                rec.PhoneNumber,
			From:              s.cfg.Twilio.CallerID,
			AnswerURL:         s.cfg.GatherCallbackURL(),
			StatusCallbackURL: s.cfg.StatusCallbackURL(),
			RingTimeout:       s.cfg.Calls.DialTimeout,
			DetectMachine:     true,
		})
		return perr
	})
	if err != nil {
		s.releaseSlot(ctx, rec.ID)
		return s.markFailed(ctx, rec, "could not reach the telephony gateway", err.Error())
	}

	status := StatusDialing
	updated, err := s.repo.Apply(ctx, rec.ID, Update{
		Status:            &status,
		ProviderCallID:    &placed.ProviderCallID,
		OnlyIfNonTerminal: true,
	})
	if err != nil {
		// The record was settled concurrently; the placed call will be
		// resolved by its own status webhooks.
		if errors.Is(err, ErrTerminal) {
			return s.repo.Get(ctx, rec.ID)
		}
		return CallRecord{}, err
	}

	s.notify(ctx, updated)
	s.scheduleStaleCheck(rec.ID)

	s.log.Info("call placed",
		"call_id", rec.ID,
		"provider_call_id", placed.ProviderCallID,
		"goal", rec.CallGoal,
	)
	return updated, nil
}

// HandleStatus applies one lifecycle event from the gateway. It is
// idempotent: duplicates, reordered deliveries and events for settled
// calls are no-ops. It never returns an error for bad event content, only
// for infrastructure failures; the webhook layer acks regardless.
func (s *Service) HandleStatus(ctx context.Context, form telephony.StatusWebhookForm) error {
	ev := NormalizeStatus(form)
	if !ev.Known {
		s.log.Warn("unknown call status ignored",
			"provider_call_id", form.CallSid,
			"call_status", form.CallStatus,
		)
		return nil
	}

	rec, err := s.repo.GetByProviderID(ctx, ev.ProviderCallID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.log.Warn("status event for unknown call", "provider_call_id", ev.ProviderCallID)
			return nil
		}
		return err
	}

	// An answering machine ends the call immediately; there is nobody to
	// talk to. The hangup also produces a provider-side "completed" event,
	// which the terminal guard then ignores.
	if ev.MachineDetected && !rec.Status.Terminal() {
		if err := s.provider.Hangup(ctx, rec.ProviderCallID); err != nil {
			s.log.Warn("hangup after machine detection failed", "call_id", rec.ID, "error", err)
		}
		return s.finalize(ctx, rec, StatusFailed, CauseMachine, ev.DurationSeconds)
	}

	if IsRedundant(rec.Status, ev.Status) {
		return nil
	}
	if !CanTransition(rec.Status, ev.Status) {
		s.log.Warn("illegal call transition ignored",
			"call_id", rec.ID,
			"from", rec.Status,
			"to", ev.Status,
		)
		return nil
	}

	if ev.Status.Terminal() {
		return s.finalize(ctx, rec, ev.Status, ev.Cause, ev.DurationSeconds)
	}

	updated, err := s.repo.Apply(ctx, rec.ID, Update{Status: &ev.Status, OnlyIfNonTerminal: true})
	if err != nil {
		if errors.Is(err, ErrTerminal) {
			return nil
		}
		return err
	}
	s.notify(ctx, updated)
	return nil
}

// HandleTurn runs one conversation turn: rebuild history from the stored
// transcript, generate the reply, persist both turns, and return the
// call-control markup. A failure anywhere degrades to markup that keeps
// the call alive; the gateway never sees an error page mid-call.
func (s *Service) HandleTurn(ctx context.Context, form telephony.GatherWebhookForm) (string, error) {
	rec, err := s.repo.GetByProviderID(ctx, form.CallSid)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.log.Warn("turn for unknown call", "provider_call_id", form.CallSid)
			return telephony.RenderHangup(), nil
		}
		return "", err
	}
	if rec.Status.Terminal() {
		return telephony.RenderHangup(), nil
	}

	now := s.clock()
	history := conversation.ParseTranscript(rec.Transcript)

	var answers []string
	if s.desk != nil {
		answers, err = s.desk.ConsumeAnswered(ctx, rec.ID)
		if err != nil {
			s.log.Warn("operator answers unavailable", "call_id", rec.ID, "error", err)
		}
	}

	resp := s.engine.Respond(ctx, conversation.Request{
		History:           history,
		CallGoal:          rec.CallGoal,
		RecipientName:     rec.RecipientName,
		AdditionalContext: rec.AdditionalContext,
		LatestInput:       form.SpeechResult,
		OperatorAnswers:   answers,
	})

	var newTurns []conversation.Turn
	if form.SpeechResult != "" {
		newTurns = append(newTurns, conversation.Turn{
			Timestamp:  now,
			Speaker:    conversation.SpeakerHuman,
			Text:       form.SpeechResult,
			Confidence: max(form.Confidence, 0),
		})
	}
	newTurns = append(newTurns, conversation.Turn{
		Timestamp: now,
		Speaker:   conversation.SpeakerAI,
		Text:      resp.Text,
	})
	chunk := conversation.FormatTranscript(newTurns)
	if rec.Transcript != "" {
		chunk = "\n" + chunk
	}
	if err := s.repo.AppendTranscript(ctx, rec.ID, chunk); err != nil {
		s.log.Error("transcript append failed", "call_id", rec.ID, "error", err)
	}

	if resp.NeedsAssistance && s.desk != nil {
		if err := s.desk.Raise(ctx, rec.ID, resp.AssistanceQuestion, rec.CallGoal); err != nil {
			s.log.Warn("question raise failed", "call_id", rec.ID, "error", err)
		}
	}

	// The engine ending the conversation settles the call now; the
	// gateway's later completed event becomes a duplicate against the
	// terminal guard. Waiting for that event risks a record stuck in
	// in_progress if it never arrives.
	if !resp.ShouldContinue {
		if err := s.finalize(ctx, rec, StatusCompleted, CauseNormal, -1); err != nil {
			s.log.Error("settle after final turn failed", "call_id", rec.ID, "error", err)
		}
	}

	in := telephony.TurnInstruction{
		Text:            resp.Text,
		GatherActionURL: s.cfg.GatherCallbackURL(),
		EndCall:         !resp.ShouldContinue,
	}
	est := voice.EstimateSpeechDuration(resp.Text)
	if s.synth != nil && s.synth.Configured() {
		clip, serr := s.synth.Synthesize(ctx, resp.Text)
		if serr != nil {
			s.log.Warn("synthesis failed, using gateway voice", "call_id", rec.ID, "error", serr)
		} else if id, cerr := s.clips.Store(ctx, clip); cerr != nil {
			s.log.Warn("clip store failed, using gateway voice", "call_id", rec.ID, "error", cerr)
		} else {
			in.AudioURL = s.cfg.AudioURL(id)
			est = clip.EstimatedDuration
		}
	}
	in.GatherTimeout = telephony.GatherTimeoutForSpeech(est)

	markup, err := telephony.RenderTurn(in)
	if err != nil {
		return "", err
	}
	return markup, nil
}

// Get returns the record, first running a lazy stale-dial check so a call
// whose webhooks never arrived still settles when somebody looks at it.
func (s *Service) Get(ctx context.Context, id string) (CallRecord, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return CallRecord{}, err
	}
	if s.isStaleDial(rec) {
		if err := s.timeoutCall(ctx, rec); err != nil {
			return CallRecord{}, err
		}
		return s.repo.Get(ctx, id)
	}
	return rec, nil
}

// SweepStale forces calls stuck in preparing/dialing past the dial timeout
// to failed. Returns how many records were settled.
func (s *Service) SweepStale(ctx context.Context) (int, error) {
	cutoff := s.clock().Add(-s.cfg.Calls.DialTimeout)
	stale, err := s.repo.ListStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range stale {
		if err := s.timeoutCall(ctx, rec); err != nil {
			s.log.Error("stale call settle failed", "call_id", rec.ID, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// ListActive exposes the repository's active set for reconciliation.
func (s *Service) ListActive(ctx context.Context) ([]CallRecord, error) {
	return s.repo.ListActive(ctx)
}

func (s *Service) isStaleDial(rec CallRecord) bool {
	if rec.Status != StatusPreparing && rec.Status != StatusDialing {
		return false
	}
	return s.clock().Sub(rec.CreatedAt) > s.cfg.Calls.DialTimeout
}

func (s *Service) timeoutCall(ctx context.Context, rec CallRecord) error {
	// Best-effort hangup so the gateway stops ringing a line nobody will
	// answer.
	if rec.ProviderCallID != "" {
		if err := s.provider.Hangup(ctx, rec.ProviderCallID); err != nil {
			s.log.Warn("hangup of timed-out call failed", "call_id", rec.ID, "error", err)
		}
	}
	return s.finalize(ctx, rec, StatusFailed, CauseTimeout, -1)
}

// finalize settles a record into a terminal state exactly once. Duration
// falls back to wall clock since creation when the gateway did not report
// one. Losing the OnlyIfNonTerminal race is a success: somebody else
// settled the call.
func (s *Service) finalize(ctx context.Context, rec CallRecord, status CallStatus, cause string, durationSeconds int) error {
	now := s.clock()
	if durationSeconds < 0 {
		durationSeconds = int(now.Sub(rec.CreatedAt).Seconds())
	}

	// Re-read so the result classifier sees the full transcript, not the
	// snapshot from before the last turn.
	fresh, err := s.repo.Get(ctx, rec.ID)
	if err == nil {
		rec = fresh
	}

	result := s.policy.Classify(rec, cause, durationSeconds)
	updated, err := s.repo.Apply(ctx, rec.ID, Update{
		Status:            &status,
		Result:            &result,
		CompletedAt:       &now,
		DurationSeconds:   &durationSeconds,
		OnlyIfNonTerminal: true,
	})
	if err != nil {
		if errors.Is(err, ErrTerminal) {
			return nil
		}
		return err
	}

	s.releaseSlot(ctx, rec.ID)
	s.notify(ctx, updated)

	s.log.Info("call settled",
		"call_id", rec.ID,
		"status", status,
		"cause", cause,
		"success", result.Success,
		"duration_seconds", durationSeconds,
	)
	return nil
}

func (s *Service) markFailed(ctx context.Context, rec CallRecord, message, details string) (CallRecord, error) {
	now := s.clock()
	status := StatusFailed
	duration := int(now.Sub(rec.CreatedAt).Seconds())
	result := CallResult{Message: message, Details: details, Transcript: rec.Transcript}
	updated, err := s.repo.Apply(ctx, rec.ID, Update{
		Status:            &status,
		Result:            &result,
		CompletedAt:       &now,
		DurationSeconds:   &duration,
		OnlyIfNonTerminal: true,
	})
	if err != nil {
		if errors.Is(err, ErrTerminal) {
			return s.repo.Get(ctx, rec.ID)
		}
		return CallRecord{}, err
	}
	s.notify(ctx, updated)
	return updated, nil
}

func (s *Service) releaseSlot(ctx context.Context, callID string) {
	if err := s.slots.Release(ctx); err != nil {
		s.log.Warn("call slot release failed", "call_id", callID, "error", err)
	}
}

func (s *Service) notify(ctx context.Context, rec CallRecord) {
	if s.notifier != nil {
		s.notifier.CallUpdated(ctx, rec)
	}
}

// scheduleStaleCheck arms a one-shot check for this call at the dial
// deadline, so a lost terminal webhook cannot leave it dialing forever.
// The periodic sweep and the lazy check on read are the backstops.
func (s *Service) scheduleStaleCheck(id string) {
	time.AfterFunc(s.cfg.Calls.DialTimeout+5*time.Second, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		rec, err := s.repo.Get(ctx, id)
		if err != nil {
			return
		}
		if s.isStaleDial(rec) {
			if err := s.timeoutCall(ctx, rec); err != nil {
				s.log.Error("scheduled stale check failed", "call_id", id, "error", err)
			}
		}
	})
}

func validateStart(req StartRequest) error {
	if strings.TrimSpace(req.RecipientName) == "" {
		return ErrInvalidRequest
	}
	if strings.TrimSpace(req.CallGoal) == "" {
		return ErrInvalidRequest
	}
	return validatePhone(strings.TrimSpace(req.PhoneNumber))
}

// validatePhone accepts E.164: '+' then 7 to 15 digits.
func validatePhone(p string) error {
	if len(p) < 8 || len(p) > 16 || p[0] != '+' {
		return ErrInvalidRequest
	}
	for _, r := range p[1:] {
		if r < '0' || r > '9' {
			return ErrInvalidRequest
		}
	}
	return nil
}
