package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/relaylabs/relay/internal/providers"
	"github.com/relaylabs/relay/internal/sessions"
	"github.com/relaylabs/relay/pkg/models"
)

func newTestManager(t *testing.T, window int, provider providers.Provider) (*Manager, *sessions.Store, *sessions.Locker) {
	t.Helper()
	store, err := sessions.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	locker := sessions.NewLocker(time.Second)
	manager, err := NewManager(Config{Dir: t.TempDir(), Window: window}, store, locker, provider)
	if err != nil {
		t.Fatal(err)
	}
	return manager, store, locker
}

func fillSession(t *testing.T, store *sessions.Store, owner string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		kind := models.RecordUser
		if i%2 == 1 {
			kind = models.RecordAssistant
		}
		if err := store.Append(owner, models.TurnRecord{Kind: kind, Content: "msg", CreatedMs: int64(i)}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestConsolidateBelowThresholdNoop(t *testing.T) {
	stub := providers.NewStub()
	manager, store, _ := newTestManager(t, 10, stub)
	fillSession(t, store, "cli:1", 20) // exactly 2x window

	if err := manager.MaybeConsolidate(context.Background(), "cli:1"); err != nil {
		t.Fatal(err)
	}
	if stub.Calls() != 0 {
		t.Error("summarizer called below threshold")
	}
	session, _ := store.Load("cli:1")
	if len(session.Records) != 20 {
		t.Errorf("records = %d, want untouched", len(session.Records))
	}
}

func TestConsolidateRewritesToWindow(t *testing.T) {
	stub := providers.NewStub(providers.Text("- user likes milk"))
	manager, store, _ := newTestManager(t, 10, stub)
	fillSession(t, store, "cli:1", 25)

	if err := manager.MaybeConsolidate(context.Background(), "cli:1"); err != nil {
		t.Fatal(err)
	}
	session, _ := store.Load("cli:1")
	if len(session.Records) != 10 {
		t.Errorf("records = %d, want window", len(session.Records))
	}
	doc := manager.Document("cli:1")
	if !strings.Contains(doc, "user likes milk") {
		t.Errorf("document = %q", doc)
	}
}

func TestConsolidateSkipsWhileTurnHeld(t *testing.T) {
	stub := providers.NewStub(providers.Text("summary"))
	manager, store, locker := newTestManager(t, 5, stub)
	fillSession(t, store, "cli:1", 20)

	release, err := locker.Acquire(context.Background(), "cli:1")
	if err != nil {
		t.Fatal(err)
	}
	if err := manager.MaybeConsolidate(context.Background(), "cli:1"); err != nil {
		t.Fatal(err)
	}
	if stub.Calls() != 0 {
		t.Error("consolidation ran while a turn held the lock")
	}
	release()

	if err := manager.MaybeConsolidate(context.Background(), "cli:1"); err != nil {
		t.Fatal(err)
	}
	if stub.Calls() != 1 {
		t.Error("consolidation did not run after lock release")
	}
}

func TestConsolidateKeepsToolPairsTogether(t *testing.T) {
	stub := providers.NewStub(providers.Text("summary"))
	manager, store, _ := newTestManager(t, 3, stub)

	owner := "cli:tools"
	records := []models.TurnRecord{
		{Kind: models.RecordUser, Content: "a"},
		{Kind: models.RecordAssistant, Content: "b"},
		{Kind: models.RecordUser, Content: "c"},
		{Kind: models.RecordAssistant, Content: "d"},
		{Kind: models.RecordToolCall, ToolName: "exec", CallID: "1"},
		{Kind: models.RecordToolResult, CallID: "1", Status: models.StatusSuccess, Content: "out"},
		{Kind: models.RecordAssistant, Content: "e"},
	}
	if err := store.Append(owner, records...); err != nil {
		t.Fatal(err)
	}

	if err := manager.MaybeConsolidate(context.Background(), owner); err != nil {
		t.Fatal(err)
	}
	session, _ := store.Load(owner)
	if len(session.Records) == 0 {
		t.Fatal("all records consolidated")
	}
	if session.Records[0].Kind == models.RecordToolResult {
		t.Error("rewrite split a tool result from its call")
	}
}

func TestDocumentAccumulates(t *testing.T) {
	stub := providers.NewStub(providers.Text("first batch"), providers.Text("second batch"))
	manager, store, _ := newTestManager(t, 2, stub)

	fillSession(t, store, "cli:1", 10)
	if err := manager.MaybeConsolidate(context.Background(), "cli:1"); err != nil {
		t.Fatal(err)
	}
	fillSession(t, store, "cli:1", 8)
	if err := manager.MaybeConsolidate(context.Background(), "cli:1"); err != nil {
		t.Fatal(err)
	}

	doc := manager.Document("cli:1")
	if !strings.Contains(doc, "first batch") || !strings.Contains(doc, "second batch") {
		t.Errorf("document = %q", doc)
	}
}
