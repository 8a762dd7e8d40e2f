package calls

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"callpilot/internal/config"
	"callpilot/internal/conversation"
	"callpilot/internal/errlog"
	"callpilot/internal/telephony"
)

type fakeProvider struct {
	mu       sync.Mutex
	placeErr error
	placed   []telephony.PlaceCallRequest
	hangups  []string
	recent   []telephony.RecentCall
}

func (p *fakeProvider) Name() string                        { return "fake" }
func (p *fakeProvider) HealthCheck(ctx context.Context) error { return nil }

func (p *fakeProvider) PlaceCall(ctx context.Context, req telephony.PlaceCallRequest) (telephony.PlaceCallResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, req)
	if p.placeErr != nil {
		return telephony.PlaceCallResult{}, p.placeErr
	}
	return telephony.PlaceCallResult{ProviderCallID: "CA-test"}, nil
}

func (p *fakeProvider) Hangup(ctx context.Context, providerCallID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hangups = append(p.hangups, providerCallID)
	return nil
}

func (p *fakeProvider) ListRecentCalls(ctx context.Context, limit int) ([]telephony.RecentCall, error) {
	return p.recent, nil
}

type fakeEngine struct {
	resp conversation.Response
	reqs []conversation.Request
}

func (e *fakeEngine) Respond(ctx context.Context, req conversation.Request) conversation.Response {
	e.reqs = append(e.reqs, req)
	return e.resp
}

type memSlots struct {
	mu     sync.Mutex
	limit  int
	active int
}

func (s *memSlots) Acquire(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active >= s.limit {
		return false, nil
	}
	s.active++
	return true, nil
}

func (s *memSlots) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	updates []CallRecord
}

func (n *fakeNotifier) CallUpdated(ctx context.Context, rec CallRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, rec)
}

type fakeDesk struct {
	raised  []string
	answers []string
}

func (d *fakeDesk) Raise(ctx context.Context, callID, question, callContext string) error {
	d.raised = append(d.raised, question)
	return nil
}

func (d *fakeDesk) ConsumeAnswered(ctx context.Context, callID string) ([]string, error) {
	out := d.answers
	d.answers = nil
	return out, nil
}

type harness struct {
	svc      *Service
	repo     *MemoryRepo
	provider *fakeProvider
	engine   *fakeEngine
	slots    *memSlots
	notifier *fakeNotifier
	desk     *fakeDesk
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		repo:     NewMemoryRepo(),
		provider: &fakeProvider{},
		engine:   &fakeEngine{resp: conversation.Response{Text: "Hello there.", ShouldContinue: true}},
		slots:    &memSlots{limit: 2},
		notifier: &fakeNotifier{},
		desk:     &fakeDesk{},
	}
	cfg := config.Config{}
	cfg.App.PublicBaseURL = "https://calls.example.com"
	cfg.Twilio.CallerID = "+15550001111"
	cfg.Calls.DialTimeout = 120 * time.Second
	cfg.Calls.MaxActive = 2
	cfg.Calls.MaxHumanTurns = 10
	h.svc = NewService(ServiceDeps{
		Repo:     h.repo,
		Provider: h.provider,
		Engine:   h.engine,
		Desk:     h.desk,
		Notifier: h.notifier,
		Slots:    h.slots,
		Reporter: errlog.NewReporter(log),
		Log:      log,
		Config:   cfg,
	})
	return h
}

func validStart() StartRequest {
	return StartRequest{
		RecipientName: "Dr. Smith's office",
		PhoneNumber:   "+15550002222",
		CallGoal:      "Book appointment",
	}
}

func TestStartPlacesCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.svc.Start(ctx, validStart())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.Status != StatusDialing {
		t.Fatalf("status = %s, want %s", rec.Status, StatusDialing)
	}
	if rec.ProviderCallID != "CA-test" {
		t.Fatalf("provider call id = %q", rec.ProviderCallID)
	}
	if len(h.provider.placed) != 1 {
		t.Fatalf("placed %d calls", len(h.provider.placed))
	}
	req := h.provider.placed[0]
	if req.From != "+15550001111" || req.To != "+15550002222" {
		t.Fatalf("from/to = %q/%q", req.From, req.To)
	}
	if req.StatusCallbackURL != "https://calls.example.com/webhooks/twilio/status" {
		t.Fatalf("status callback = %q", req.StatusCallbackURL)
	}
	if !req.DetectMachine {
		t.Fatalf("machine detection not requested")
	}
	if h.slots.active != 1 {
		t.Fatalf("active slots = %d", h.slots.active)
	}
	if len(h.notifier.updates) == 0 {
		t.Fatalf("no update published")
	}
}

func TestStartValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bad := []StartRequest{
		{PhoneNumber: "+15550002222", CallGoal: "g"},
		{RecipientName: "r", CallGoal: "g"},
		{RecipientName: "r", PhoneNumber: "+15550002222"},
		{RecipientName: "r", PhoneNumber: "15550002222", CallGoal: "g"},
		{RecipientName: "r", PhoneNumber: "+1555ABC2222", CallGoal: "g"},
		{RecipientName: "r", PhoneNumber: "+12", CallGoal: "g"},
	}
	for i, req := range bad {
		if _, err := h.svc.Start(ctx, req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("case %d: err = %v, want ErrInvalidRequest", i, err)
		}
	}
}

func TestStartConcurrencyCap(t *testing.T) {
	h := newHarness(t)
	h.slots.limit = 0
	ctx := context.Background()

	rec, err := h.svc.Start(ctx, validStart())
	if !errors.Is(err, ErrTooManyActive) {
		t.Fatalf("err = %v, want ErrTooManyActive", err)
	}
	if rec.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", rec.Status, StatusFailed)
	}
	if rec.Result == nil || !strings.Contains(rec.Result.Message, "too many calls") {
		t.Fatalf("result = %+v", rec.Result)
	}
	if len(h.provider.placed) != 0 {
		t.Fatalf("call placed despite cap")
	}
}

func TestStartGatewayFailure(t *testing.T) {
	h := newHarness(t)
	h.provider.placeErr = errors.New("connection refused")
	ctx := context.Background()

	rec, err := h.svc.Start(ctx, validStart())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", rec.Status, StatusFailed)
	}
	if rec.Result == nil || rec.Result.Message != "could not reach the telephony gateway" {
		t.Fatalf("result = %+v", rec.Result)
	}
	// All attempts exhausted, slot returned.
	if len(h.provider.placed) != 3 {
		t.Fatalf("attempts = %d, want 3", len(h.provider.placed))
	}
	if h.slots.active != 0 {
		t.Fatalf("slot leaked: active = %d", h.slots.active)
	}
}

func statusEvent(sid, status string, duration int) telephony.StatusWebhookForm {
	return telephony.StatusWebhookForm{CallSid: sid, CallStatus: status, CallDuration: duration}
}

func TestHandleStatusLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.svc.Start(ctx, validStart())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Late ringing is a no-op once dialing.
	if err := h.svc.HandleStatus(ctx, statusEvent("CA-test", "ringing", -1)); err != nil {
		t.Fatalf("ringing: %v", err)
	}
	if err := h.svc.HandleStatus(ctx, statusEvent("CA-test", "in-progress", -1)); err != nil {
		t.Fatalf("in-progress: %v", err)
	}
	got, _ := h.repo.Get(ctx, rec.ID)
	if got.Status != StatusInProgress {
		t.Fatalf("status = %s, want %s", got.Status, StatusInProgress)
	}

	if err := h.repo.AppendTranscript(ctx, rec.ID, "Human: You're scheduled for Tuesday."); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := h.svc.HandleStatus(ctx, statusEvent("CA-test", "completed", 40)); err != nil {
		t.Fatalf("completed: %v", err)
	}
	got, _ = h.repo.Get(ctx, rec.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s", got.Status, StatusCompleted)
	}
	if got.Result == nil || !got.Result.Success {
		t.Fatalf("result = %+v", got.Result)
	}
	if got.DurationSeconds != 40 {
		t.Fatalf("duration = %d, want 40", got.DurationSeconds)
	}
	if got.CompletedAt == nil {
		t.Fatalf("completedAt not set")
	}
	if h.slots.active != 0 {
		t.Fatalf("slot not released")
	}

	// A duplicate terminal event must not touch the settled record.
	before := got.Revision
	if err := h.svc.HandleStatus(ctx, statusEvent("CA-test", "completed", 40)); err != nil {
		t.Fatalf("duplicate completed: %v", err)
	}
	got, _ = h.repo.Get(ctx, rec.ID)
	if got.Revision != before {
		t.Fatalf("settled record was rewritten")
	}
}

func TestHandleStatusBusy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec, _ := h.svc.Start(ctx, validStart())

	if err := h.svc.HandleStatus(ctx, statusEvent("CA-test", "busy", 3)); err != nil {
		t.Fatalf("busy: %v", err)
	}
	got, _ := h.repo.Get(ctx, rec.ID)
	if got.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", got.Status, StatusFailed)
	}
	if got.Result == nil || got.Result.Message != "recipient line was busy" {
		t.Fatalf("result = %+v", got.Result)
	}
}

func TestHandleStatusMachineDetection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec, _ := h.svc.Start(ctx, validStart())

	form := statusEvent("CA-test", "in-progress", -1)
	form.AnsweredBy = "machine_start"
	if err := h.svc.HandleStatus(ctx, form); err != nil {
		t.Fatalf("machine event: %v", err)
	}
	if len(h.provider.hangups) != 1 || h.provider.hangups[0] != "CA-test" {
		t.Fatalf("hangups = %v", h.provider.hangups)
	}
	got, _ := h.repo.Get(ctx, rec.ID)
	if got.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", got.Status, StatusFailed)
	}
	if got.Result == nil || got.Result.Message != "reached an answering machine" {
		t.Fatalf("result = %+v", got.Result)
	}
}

func TestHandleStatusUnknownEventAndCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec, _ := h.svc.Start(ctx, validStart())

	if err := h.svc.HandleStatus(ctx, statusEvent("CA-test", "transferring", -1)); err != nil {
		t.Fatalf("unknown vocab: %v", err)
	}
	if err := h.svc.HandleStatus(ctx, statusEvent("CA-nobody", "completed", 10)); err != nil {
		t.Fatalf("unknown call: %v", err)
	}
	got, _ := h.repo.Get(ctx, rec.ID)
	if got.Status != StatusDialing {
		t.Fatalf("record disturbed: %s", got.Status)
	}
}

func TestHandleTurnAppendsTranscriptAndGathers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec, _ := h.svc.Start(ctx, validStart())
	_ = h.svc.HandleStatus(ctx, statusEvent("CA-test", "in-progress", -1))

	markup, err := h.svc.HandleTurn(ctx, telephony.GatherWebhookForm{
		CallSid:      "CA-test",
		SpeechResult: "Hello, who is this?",
		Confidence:   0.92,
	})
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if !strings.Contains(markup, "<Say") || !strings.Contains(markup, "Hello there.") {
		t.Fatalf("markup missing utterance: %s", markup)
	}
	if !strings.Contains(markup, "<Gather") {
		t.Fatalf("markup missing gather: %s", markup)
	}
	if !strings.Contains(markup, "https://calls.example.com/webhooks/twilio/gather") {
		t.Fatalf("markup missing action url: %s", markup)
	}

	got, _ := h.repo.Get(ctx, rec.ID)
	if !strings.Contains(got.Transcript, "Human: Hello, who is this?") {
		t.Fatalf("human turn not persisted: %q", got.Transcript)
	}
	if !strings.Contains(got.Transcript, "AI: Hello there.") {
		t.Fatalf("ai turn not persisted: %q", got.Transcript)
	}

	if len(h.engine.reqs) != 1 {
		t.Fatalf("engine calls = %d", len(h.engine.reqs))
	}
	req := h.engine.reqs[0]
	if req.LatestInput != "Hello, who is this?" || req.CallGoal != "Book appointment" {
		t.Fatalf("engine request = %+v", req)
	}
}

func TestHandleTurnRebuildsHistoryFromTranscript(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec, _ := h.svc.Start(ctx, validStart())
	_ = h.svc.HandleStatus(ctx, statusEvent("CA-test", "in-progress", -1))
	_ = h.repo.AppendTranscript(ctx, rec.ID, "AI: Hi, calling about an appointment.\nHuman: Which day?")

	if _, err := h.svc.HandleTurn(ctx, telephony.GatherWebhookForm{CallSid: "CA-test", SpeechResult: "Tuesday works."}); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	req := h.engine.reqs[0]
	if len(req.History) != 2 {
		t.Fatalf("history = %d turns, want 2", len(req.History))
	}
	if req.History[1].Speaker != conversation.SpeakerHuman || req.History[1].Text != "Which day?" {
		t.Fatalf("history[1] = %+v", req.History[1])
	}
}

func TestHandleTurnEndsCall(t *testing.T) {
	h := newHarness(t)
	h.engine.resp = conversation.Response{Text: "Thanks, goodbye.", ShouldContinue: false}
	ctx := context.Background()
	started, _ := h.svc.Start(ctx, validStart())
	_ = h.svc.HandleStatus(ctx, statusEvent("CA-test", "in-progress", -1))

	markup, err := h.svc.HandleTurn(ctx, telephony.GatherWebhookForm{CallSid: "CA-test", SpeechResult: "That's all."})
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if !strings.Contains(markup, "<Hangup") {
		t.Fatalf("markup missing hangup: %s", markup)
	}
	if strings.Contains(markup, "<Gather") {
		t.Fatalf("farewell turn must not gather: %s", markup)
	}

	// The farewell turn settles the record itself; a lost completed
	// webhook must not leave the call in in_progress.
	rec, err := h.svc.Get(ctx, started.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != StatusCompleted {
		t.Fatalf("status after farewell = %s, want %s", rec.Status, StatusCompleted)
	}
	if rec.Result == nil {
		t.Fatalf("farewell turn left no result")
	}
	if h.slots.active != 0 {
		t.Fatalf("active slots = %d after farewell", h.slots.active)
	}

	// The gateway's own completed event still arrives later; it must be a
	// harmless duplicate.
	if err := h.svc.HandleStatus(ctx, statusEvent("CA-test", "completed", 42)); err != nil {
		t.Fatalf("duplicate completed: %v", err)
	}
	again, _ := h.svc.Get(ctx, rec.ID)
	if again.Revision != rec.Revision {
		t.Fatalf("duplicate completed touched the record: rev %d -> %d", rec.Revision, again.Revision)
	}
}

func TestHandleTurnRaisesQuestionAndInjectsAnswers(t *testing.T) {
	h := newHarness(t)
	h.engine.resp = conversation.Response{
		Text:               "I don't have that information, let me check.",
		ShouldContinue:     true,
		NeedsAssistance:    true,
		AssistanceQuestion: "How much does a cleaning cost?",
	}
	h.desk.answers = []string{"A cleaning costs 80 dollars."}
	ctx := context.Background()
	_, _ = h.svc.Start(ctx, validStart())
	_ = h.svc.HandleStatus(ctx, statusEvent("CA-test", "in-progress", -1))

	if _, err := h.svc.HandleTurn(ctx, telephony.GatherWebhookForm{CallSid: "CA-test", SpeechResult: "How much does a cleaning cost?"}); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if len(h.desk.raised) != 1 || h.desk.raised[0] != "How much does a cleaning cost?" {
		t.Fatalf("raised = %v", h.desk.raised)
	}
	if len(h.engine.reqs[0].OperatorAnswers) != 1 {
		t.Fatalf("answers not injected: %+v", h.engine.reqs[0])
	}
}

func TestHandleTurnUnknownOrSettledCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	markup, err := h.svc.HandleTurn(ctx, telephony.GatherWebhookForm{CallSid: "CA-nobody"})
	if err != nil {
		t.Fatalf("unknown call: %v", err)
	}
	if !strings.Contains(markup, "<Hangup") {
		t.Fatalf("expected hangup markup, got %s", markup)
	}

	rec, _ := h.svc.Start(ctx, validStart())
	_ = h.svc.HandleStatus(ctx, statusEvent("CA-test", "busy", 2))
	markup, err = h.svc.HandleTurn(ctx, telephony.GatherWebhookForm{CallSid: "CA-test"})
	if err != nil {
		t.Fatalf("settled call: %v", err)
	}
	if !strings.Contains(markup, "<Hangup") {
		t.Fatalf("expected hangup markup for settled call %s, got %s", rec.ID, markup)
	}
}

func TestGetSettlesStaleDial(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec, _ := h.svc.Start(ctx, validStart())

	// Move the clock past the dial deadline.
	h.svc.clock = func() time.Time { return time.Now().Add(125 * time.Second) }

	got, err := h.svc.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", got.Status, StatusFailed)
	}
	if got.Result == nil || got.Result.Message != "call timed out" {
		t.Fatalf("result = %+v", got.Result)
	}
	if len(h.provider.hangups) != 1 {
		t.Fatalf("timed-out call not hung up")
	}
}

func TestSweepStale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec, _ := h.svc.Start(ctx, validStart())

	h.svc.clock = func() time.Time { return time.Now().Add(125 * time.Second) }

	n, err := h.svc.SweepStale(ctx)
	if err != nil {
		t.Fatalf("SweepStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("settled %d calls, want 1", n)
	}
	got, _ := h.repo.Get(ctx, rec.ID)
	if got.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", got.Status, StatusFailed)
	}
	if h.slots.active != 0 {
		t.Fatalf("slot not released by sweep")
	}
}
