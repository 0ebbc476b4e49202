package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/keshon/young-ellens/internal/ai"
	"github.com/keshon/young-ellens/internal/memory"
	"github.com/keshon/young-ellens/internal/patterns"
	"github.com/keshon/young-ellens/internal/persona"
	"github.com/keshon/young-ellens/internal/scheduler"
)

// fakeTransport records every outbound event.
type fakeTransport struct {
	mu            sync.Mutex
	replies       []Reply
	interruptions []Interruption
	ended         []Ended
	typing        []bool
}

func (f *fakeTransport) SendTyping(isTyping bool, _ persona.Mood) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, isTyping)
	return nil
}

func (f *fakeTransport) SendReply(r Reply) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, r)
	return nil
}

func (f *fakeTransport) SendInterruption(i Interruption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interruptions = append(f.interruptions, i)
	return nil
}

func (f *fakeTransport) SendEnded(e Ended) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, e)
	return nil
}

func (f *fakeTransport) replyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.replies)
}

func (f *fakeTransport) replyTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.replies))
	for i, r := range f.replies {
		out[i] = r.Text
	}
	return out
}

func (f *fakeTransport) endedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ended)
}

func (f *fakeTransport) interruptionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.interruptions)
}

// echoProvider returns the user message back, so ordering is observable.
type echoProvider struct{}

func (echoProvider) Name() string { return "echo" }

func (echoProvider) Generate(_ context.Context, req ai.Request, _ ai.Params) (*ai.Result, error) {
	return &ai.Result{Text: "echo: " + req.UserMessage, Usage: &ai.Usage{CompletionTokens: 1}}, nil
}

// slowProvider simulates a long remote generation.
type slowProvider struct{ delay time.Duration }

func (p slowProvider) Name() string { return "slow" }

func (p slowProvider) Generate(_ context.Context, req ai.Request, _ ai.Params) (*ai.Result, error) {
	time.Sleep(p.delay)
	return &ai.Result{Text: "late: " + req.UserMessage, Usage: &ai.Usage{CompletionTokens: 1}}, nil
}

// failingProvider always errors.
type failingProvider struct{}

func (failingProvider) Name() string { return "failing" }

func (failingProvider) Generate(context.Context, ai.Request, ai.Params) (*ai.Result, error) {
	return nil, errors.New("provider down")
}

type RegistrySuite struct {
	suite.Suite

	lib      *patterns.Library
	registry *Registry
	sched    *scheduler.Scheduler
}

func (s *RegistrySuite) SetupTest() {
	lib, err := patterns.Load()
	s.Require().NoError(err)
	s.lib = lib

	cfg := DefaultConfig()
	cfg.TypingDelayOff = true
	cfg.IdleTimeout = 150 * time.Millisecond
	cfg.SweepInterval = 25 * time.Millisecond

	machine := persona.New(persona.DefaultConfig(), patterns.NewRand(1))
	mem := memory.NewStore(memory.DefaultConfig(), lib)
	pipe := ai.NewPipeline([]ai.Stage{
		{Label: "primary", Provider: echoProvider{}, Remote: true},
		{Label: "fallback", Provider: ai.NewFallbackProvider(lib, patterns.NewRand(1))},
	}, nil, 0, zerolog.Nop())
	s.sched = scheduler.New()

	s.registry = NewRegistry(cfg, machine, mem, pipe, s.sched, scheduler.DefaultConfig(),
		nil, lib, patterns.NewRand(1), zerolog.Nop())
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) TestConnectSendsGreeting() {
	ft := &fakeTransport{}
	sess, err := s.registry.Connect("s1", "u1", "", ft)
	s.Require().NoError(err)
	s.NotEmpty(sess.ConversationID, "a fresh conversation id is assigned")
	s.Equal(StatusActive, sess.Status())

	s.Require().Equal(1, ft.replyCount())
	s.True(s.lib.Contains(patterns.SetGreeting, ft.replies[0].Text))
}

func (s *RegistrySuite) TestDuplicateSessionRejected() {
	_, err := s.registry.Connect("s1", "u1", "", &fakeTransport{})
	s.Require().NoError(err)

	_, err = s.registry.Connect("s1", "u2", "", &fakeTransport{})
	s.Error(err)
}

func (s *RegistrySuite) TestInboundValidation() {
	ft := &fakeTransport{}
	_, err := s.registry.Connect("s1", "u1", "", ft)
	s.Require().NoError(err)

	s.ErrorIs(s.registry.HandleInbound("s1", "   "), ErrEmptyMessage)
	s.ErrorIs(s.registry.HandleInbound("s1", strings.Repeat("a", 3000)), ErrMessageTooLong)
	s.ErrorIs(s.registry.HandleInbound("nope", "hoi"), ErrSessionNotFound)
}

func (s *RegistrySuite) TestMessagesProcessedInOrder() {
	ft := &fakeTransport{}
	_, err := s.registry.Connect("s1", "u1", "", ft)
	s.Require().NoError(err)

	const n = 8
	for i := 0; i < n; i++ {
		s.Require().NoError(s.registry.HandleInbound("s1", fmt.Sprintf("bericht %d", i)))
	}

	s.Require().Eventually(func() bool { return ft.replyCount() == n+1 },
		2*time.Second, 10*time.Millisecond)

	texts := ft.replyTexts()[1:] // skip the greeting
	for i, text := range texts {
		s.Equal(fmt.Sprintf("echo: bericht %d", i), text)
	}
}

func (s *RegistrySuite) TestDisconnectClosesQuietly() {
	ft := &fakeTransport{}
	_, err := s.registry.Connect("s1", "u1", "", ft)
	s.Require().NoError(err)

	s.registry.Disconnect("s1", ReasonDisconnect)

	s.Zero(ft.endedCount(), "client-initiated disconnect sends no ended event")
	s.Zero(s.registry.Len())
	s.ErrorIs(s.registry.HandleInbound("s1", "hoi"), ErrSessionNotFound)
}

func (s *RegistrySuite) TestDisconnectCancelsScheduledEvents() {
	ft := &fakeTransport{}
	_, err := s.registry.Connect("s1", "u1", "", ft)
	s.Require().NoError(err)

	fired := false
	s.sched.Schedule("s1", 50*time.Millisecond, func() { fired = true })

	s.registry.Disconnect("s1", ReasonDisconnect)
	time.Sleep(100 * time.Millisecond)

	s.False(fired, "pending events must not fire after teardown")
	s.Zero(ft.interruptionCount())
}

func (s *RegistrySuite) TestIdleSweepEndsSession() {
	ft := &fakeTransport{}
	_, err := s.registry.Connect("s1", "u1", "", ft)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.registry.Run(ctx)

	s.Require().Eventually(func() bool { return s.registry.Len() == 0 },
		2*time.Second, 20*time.Millisecond)
	s.Equal(1, ft.endedCount())
	s.Equal(ReasonIdleTimeout, ft.ended[0].Reason)
}

func (s *RegistrySuite) TestShutdownNotifiesClients() {
	ft1 := &fakeTransport{}
	ft2 := &fakeTransport{}
	_, err := s.registry.Connect("s1", "u1", "", ft1)
	s.Require().NoError(err)
	_, err = s.registry.Connect("s2", "u2", "", ft2)
	s.Require().NoError(err)

	s.registry.Shutdown()

	s.Zero(s.registry.Len())
	s.Equal(1, ft1.endedCount())
	s.Equal(1, ft2.endedCount())
}

func (s *RegistrySuite) TestFallbackReplyWhenProviderDown() {
	lib := s.lib
	pipe := ai.NewPipeline([]ai.Stage{
		{Label: "primary", Provider: failingProvider{}, Remote: true},
		{Label: "fallback", Provider: ai.NewFallbackProvider(lib, patterns.NewRand(1))},
	}, nil, 0, zerolog.Nop())

	cfg := DefaultConfig()
	cfg.TypingDelayOff = true
	reg := NewRegistry(cfg, persona.New(persona.DefaultConfig(), patterns.NewRand(1)),
		memory.NewStore(memory.DefaultConfig(), lib), pipe, scheduler.New(),
		scheduler.DefaultConfig(), nil, lib, patterns.NewRand(1), zerolog.Nop())

	ft := &fakeTransport{}
	_, err := reg.Connect("s1", "u1", "", ft)
	s.Require().NoError(err)
	s.Require().NoError(reg.HandleInbound("s1", "heb je coke?"))

	s.Require().Eventually(func() bool { return ft.replyCount() == 2 },
		2*time.Second, 10*time.Millisecond)

	reply := ft.replies[1]
	s.Equal("fallback", reply.Provider)
	s.True(lib.Contains(patterns.SetDenial, reply.Text), "drug question gets a denial")
}

// newTestRegistry builds a registry around the given provider and scheduling
// model, with typing delays off.
func newTestRegistry(t *testing.T, provider ai.Provider, schedCfg scheduler.Config, cfg Config) (*Registry, *patterns.Library) {
	t.Helper()
	lib, err := patterns.Load()
	require.NoError(t, err)

	cfg.TypingDelayOff = true
	pipe := ai.NewPipeline([]ai.Stage{
		{Label: "primary", Provider: provider, Remote: true},
		{Label: "fallback", Provider: ai.NewFallbackProvider(lib, patterns.NewRand(1))},
	}, nil, 0, zerolog.Nop())

	reg := NewRegistry(cfg, persona.New(persona.DefaultConfig(), patterns.NewRand(1)),
		memory.NewStore(memory.DefaultConfig(), lib), pipe, scheduler.New(),
		schedCfg, nil, lib, patterns.NewRand(1), zerolog.Nop())
	return reg, lib
}

func TestNoEventsAfterMidTurnDisconnect(t *testing.T) {
	schedCfg := scheduler.DefaultConfig()
	schedCfg.InterruptionBase = 5 // clamps to certainty
	schedCfg.InterruptionMinDelay = 10 * time.Millisecond
	schedCfg.InterruptionMaxDelay = 20 * time.Millisecond

	reg, _ := newTestRegistry(t, slowProvider{delay: 300 * time.Millisecond}, schedCfg, DefaultConfig())

	ft := &fakeTransport{}
	_, err := reg.Connect("s1", "u1", "", ft)
	require.NoError(t, err)
	require.NoError(t, reg.HandleInbound("s1", "vertel wat"))

	// Disconnect while the generation is still in flight.
	time.Sleep(100 * time.Millisecond)
	reg.Disconnect("s1", ReasonDisconnect)

	// Let the turn finish and any wrongly scheduled interruption come due.
	time.Sleep(500 * time.Millisecond)
	assert.Zero(t, ft.interruptionCount(), "closed sessions receive no interruptions")
	assert.Zero(t, ft.endedCount())
}

func TestPatienceExhaustionEndsConversation(t *testing.T) {
	schedCfg := scheduler.DefaultConfig()
	schedCfg.InterruptionBase = 0
	schedCfg.InterruptionChaosWeight = 0
	schedCfg.InterruptionScarcity = 0
	schedCfg.EndMinDelay = 10 * time.Millisecond
	schedCfg.EndMaxDelay = 20 * time.Millisecond

	reg, _ := newTestRegistry(t, echoProvider{}, schedCfg, DefaultConfig())

	ft := &fakeTransport{}
	_, err := reg.Connect("s1", "u1", "", ft)
	require.NoError(t, err)

	// Patience starts at 20 and decays by 1 per turn with no topic changes.
	for i := 0; i < 20; i++ {
		require.NoError(t, reg.HandleInbound("s1", fmt.Sprintf("turn %d", i)))
	}

	require.Eventually(t, func() bool { return ft.endedCount() == 1 },
		3*time.Second, 10*time.Millisecond)
	assert.Equal(t, ReasonPatienceExhausted, ft.ended[0].Reason)
	assert.NotEmpty(t, ft.ended[0].Message)
	assert.Zero(t, reg.Len())
	assert.ErrorIs(t, reg.HandleInbound("s1", "nog een"), ErrSessionNotFound)
}

func TestSweepSparesInFlightTurn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 60 * time.Millisecond
	cfg.SweepInterval = 15 * time.Millisecond

	reg, _ := newTestRegistry(t, slowProvider{delay: 250 * time.Millisecond}, scheduler.DefaultConfig(), cfg)

	ft := &fakeTransport{}
	_, err := reg.Connect("s1", "u1", "", ft)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.Run(ctx)

	require.NoError(t, reg.HandleInbound("s1", "lang verhaal"))

	// The generation outlives the idle timeout; the sweep must wait it out.
	require.Eventually(t, func() bool { return ft.replyCount() == 2 },
		2*time.Second, 10*time.Millisecond)
	assert.Zero(t, ft.endedCount(), "in-flight turn is not idle")

	// Once the turn is done the idle clock restarts and the sweep applies.
	require.Eventually(t, func() bool { return reg.Len() == 0 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, ft.endedCount())
}

func TestEnergyChaosDelta(t *testing.T) {
	assert.Zero(t, energyChaosDelta("rustig bericht"))
	assert.Equal(t, 4, energyChaosDelta("yo!! man"))
	assert.Equal(t, 10, energyChaosDelta("WAAROM!!! SCHREEUW JE ZO!!!"))
}

func TestTopicChangeResetsPatience(t *testing.T) {
	lib, err := patterns.Load()
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.TypingDelayOff = true
	machine := persona.New(persona.Config{
		InitialChaos:     30,
		MaxPatience:      20,
		PatienceDecay:    1,
		ChaoticThreshold: 70,
		DoneThreshold:    3,
		DrugChaosBoost:   12,
		CalmChaosDrop:    8,
	}, patterns.NewRand(1))
	pipe := ai.NewPipeline([]ai.Stage{
		{Label: "fallback", Provider: ai.NewFallbackProvider(lib, patterns.NewRand(1))},
	}, nil, 0, zerolog.Nop())
	reg := NewRegistry(cfg, machine, memory.NewStore(memory.DefaultConfig(), lib), pipe,
		scheduler.New(), scheduler.DefaultConfig(), nil, lib, patterns.NewRand(1), zerolog.Nop())

	ft := &fakeTransport{}
	sess, err := reg.Connect("s1", "u1", "", ft)
	require.NoError(t, err)

	require.NoError(t, reg.HandleInbound("s1", "vertel over muziek"))
	require.NoError(t, reg.HandleInbound("s1", "meer muziek graag"))
	require.Eventually(t, func() bool { return ft.replyCount() == 3 },
		2*time.Second, 10*time.Millisecond)
	st, ok := machine.Get(sess.ConversationID)
	require.True(t, ok)
	assert.Equal(t, 18, st.Patience)

	require.NoError(t, reg.HandleInbound("s1", "hoe is amsterdam?"))
	require.Eventually(t, func() bool { return ft.replyCount() == 4 },
		2*time.Second, 10*time.Millisecond)
	st, _ = machine.Get(sess.ConversationID)
	assert.Equal(t, 19, st.Patience, "dominant topic change resets patience before this turn's decay")
}
