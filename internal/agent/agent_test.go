package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/relaylabs/relay/internal/agentctx"
	"github.com/relaylabs/relay/internal/bus"
	"github.com/relaylabs/relay/internal/providers"
	"github.com/relaylabs/relay/internal/sessions"
	"github.com/relaylabs/relay/internal/tools"
	"github.com/relaylabs/relay/pkg/models"
)

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes text back" }
func (echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`)
}
func (echoTool) Execute(_ context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(params, &input)
	return models.Success("echo: " + input.Text), nil
}

type harness struct {
	agent    *Agent
	bus      *bus.Bus
	store    *sessions.Store
	registry *tools.Registry
	outbound <-chan *models.OutboundMessage
}

func newHarness(t *testing.T, provider providers.Provider, opts Options) *harness {
	t.Helper()
	store, err := sessions.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	t.Cleanup(b.Close)
	registry := tools.NewRegistry(nil)
	registry.Register(echoTool{})
	registry.Register(tools.NewSpawnTool(b))
	a := New(b, store, sessions.NewLocker(5*time.Second), agentctx.NewBuilder("", 40), registry, provider, opts)
	return &harness{
		agent:    a,
		bus:      b,
		store:    store,
		registry: registry,
		outbound: b.SubscribeOutbound(models.ChannelCLI),
	}
}

func cliMessage(content string) *models.InboundMessage {
	return &models.InboundMessage{
		Channel:      models.ChannelCLI,
		ChatID:       "u1",
		SenderID:     "u1",
		Content:      content,
		ReceivedAtMs: time.Now().UnixMilli(),
	}
}

func systemMessage(content string) *models.InboundMessage {
	return &models.InboundMessage{
		Channel:  models.ChannelSystem,
		ChatID:   "cron:job1",
		SenderID: "cron:job1",
		Content:  content,
	}
}

func (h *harness) reply(t *testing.T) *models.OutboundMessage {
	t.Helper()
	select {
	case msg := <-h.outbound:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no outbound message")
		return nil
	}
}

func (h *harness) noReply(t *testing.T) {
	t.Helper()
	select {
	case msg := <-h.outbound:
		t.Fatalf("unexpected outbound message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func recordKinds(records []models.TurnRecord) []models.RecordKind {
	kinds := make([]models.RecordKind, len(records))
	for i, r := range records {
		kinds[i] = r.Kind
	}
	return kinds
}

func TestTurnHappyPath(t *testing.T) {
	stub := providers.NewStub(providers.Text("Hi!"))
	h := newHarness(t, stub, Options{})

	h.agent.Handle(context.Background(), cliMessage("hello"))

	reply := h.reply(t)
	if reply.Channel != models.ChannelCLI || reply.ChatID != "u1" || reply.Content != "Hi!" {
		t.Errorf("reply = %+v", reply)
	}

	session, _ := h.store.Load("cli:u1")
	kinds := recordKinds(session.Records)
	if len(kinds) != 2 || kinds[0] != models.RecordUser || kinds[1] != models.RecordAssistant {
		t.Errorf("records = %v", kinds)
	}
}

func TestTurnOneToolIteration(t *testing.T) {
	stub := providers.NewStub(
		providers.Tools(providers.ToolCall{
			ID:        "call-1",
			Name:      "echo",
			Arguments: json.RawMessage(`{"text":"ping"}`),
		}),
		providers.Text("it said ping"),
	)
	h := newHarness(t, stub, Options{})

	h.agent.Handle(context.Background(), cliMessage("run echo"))

	if got := h.reply(t).Content; got != "it said ping" {
		t.Errorf("reply = %q", got)
	}

	session, _ := h.store.Load("cli:u1")
	want := []models.RecordKind{
		models.RecordUser,
		models.RecordToolCall,
		models.RecordToolResult,
		models.RecordAssistant,
	}
	kinds := recordKinds(session.Records)
	if len(kinds) != len(want) {
		t.Fatalf("records = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("records = %v, want %v", kinds, want)
		}
	}
	if session.Records[2].Content != "echo: ping" || session.Records[2].Status != models.StatusSuccess {
		t.Errorf("tool result = %+v", session.Records[2])
	}
	if session.Records[1].CallID != "call-1" || session.Records[2].CallID != "call-1" {
		t.Error("call id not threaded through the record pair")
	}

	// The second provider request carries the tool exchange after the
	// current message.
	second := stub.Requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || last.ToolCallID != "call-1" {
		t.Errorf("second request tail = %+v", last)
	}
}

func TestTurnProviderFailure(t *testing.T) {
	stub := providers.NewStub().FailWith(0, errors.New("upstream 500"))
	h := newHarness(t, stub, Options{})

	h.agent.Handle(context.Background(), cliMessage("hello"))

	reply := h.reply(t)
	if !strings.Contains(reply.Content, "problem talking to the language model") {
		t.Errorf("reply = %q", reply.Content)
	}
	session, _ := h.store.Load("cli:u1")
	if len(session.Records) != 2 {
		t.Fatalf("records = %v", recordKinds(session.Records))
	}
	if !strings.Contains(session.Records[1].Content, "upstream 500") {
		t.Errorf("failure record = %+v", session.Records[1])
	}
	if stub.Calls() != 1 {
		t.Errorf("calls = %d, want no retry", stub.Calls())
	}
}

func TestTurnIterationLimit(t *testing.T) {
	call := providers.Tools(providers.ToolCall{
		ID: "loop", Name: "echo", Arguments: json.RawMessage(`{"text":"again"}`),
	})
	stub := providers.NewStub(call, call, call, call)
	h := newHarness(t, stub, Options{MaxIterations: 3})

	h.agent.Handle(context.Background(), cliMessage("loop forever"))

	if got := h.reply(t).Content; got != "tool iteration limit reached" {
		t.Errorf("reply = %q", got)
	}
	if stub.Calls() != 3 {
		t.Errorf("provider calls = %d, want max iterations", stub.Calls())
	}
	session, _ := h.store.Load("cli:u1")
	last := session.Records[len(session.Records)-1]
	if last.Kind != models.RecordAssistant || last.Content != "tool iteration limit reached" {
		t.Errorf("final record = %+v", last)
	}
}

func TestBackgroundTurnNoAutoPublish(t *testing.T) {
	stub := providers.NewStub(providers.Text("checked the feed, nothing new"))
	h := newHarness(t, stub, Options{})

	h.agent.Handle(context.Background(), systemMessage("check the feed"))

	h.noReply(t)
	session, _ := h.store.Load("system:cron:job1")
	if len(session.Records) != 2 {
		t.Errorf("records = %v", recordKinds(session.Records))
	}
	// Background requests advertise tools but never spawn.
	for _, def := range stub.Requests[0].Tools {
		if def.Function.Name == "spawn" {
			t.Error("spawn offered to a background turn")
		}
	}
}

func TestBackgroundTurnSpawnDenied(t *testing.T) {
	stub := providers.NewStub(
		providers.Tools(providers.ToolCall{
			ID: "s1", Name: "spawn", Arguments: json.RawMessage(`{"task":"nested"}`),
		}),
		providers.Text(""),
	)
	h := newHarness(t, stub, Options{})

	h.agent.Handle(context.Background(), systemMessage("do work"))

	session, _ := h.store.Load("system:cron:job1")
	var result *models.TurnRecord
	for i := range session.Records {
		if session.Records[i].Kind == models.RecordToolResult {
			result = &session.Records[i]
		}
	}
	if result == nil {
		t.Fatal("no tool result recorded")
	}
	if result.Status != models.StatusAccessDenied {
		t.Errorf("result = %+v", result)
	}
}

func TestTurnsSerializePerOwner(t *testing.T) {
	stub := providers.NewStub(providers.Text("one"), providers.Text("two"))
	h := newHarness(t, stub, Options{})

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			h.agent.Handle(context.Background(), cliMessage("msg"))
			done <- struct{}{}
		}()
	}
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("turn did not finish")
		}
		h.reply(t)
	}

	session, _ := h.store.Load("cli:u1")
	kinds := recordKinds(session.Records)
	// Serialized turns interleave as user/assistant pairs, never
	// user/user.
	want := []models.RecordKind{
		models.RecordUser, models.RecordAssistant,
		models.RecordUser, models.RecordAssistant,
	}
	if len(kinds) != len(want) {
		t.Fatalf("records = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("records = %v, want %v", kinds, want)
		}
	}
}

func TestEmptyFinalTextNotPublished(t *testing.T) {
	stub := providers.NewStub(providers.Text("   "))
	h := newHarness(t, stub, Options{})

	h.agent.Handle(context.Background(), cliMessage("quiet please"))

	h.noReply(t)
}

func TestCancelStopsIteration(t *testing.T) {
	call := providers.Tools(providers.ToolCall{
		ID: "c", Name: "echo", Arguments: json.RawMessage(`{"text":"x"}`),
	})
	stub := providers.NewStub(call, call, call, call, call)
	h := newHarness(t, stub, Options{MaxIterations: 5})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.agent.Handle(ctx, cliMessage("never mind"))

	if stub.Calls() != 0 {
		t.Errorf("provider called %d times after cancellation", stub.Calls())
	}
}
