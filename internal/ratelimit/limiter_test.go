package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

func newTestLimiter(config Config) (*Limiter, *time.Time) {
	l := NewLimiter(config)
	now := time.Now()
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiter_PerToolLimit(t *testing.T) {
	l, _ := newTestLimiter(DefaultConfig())

	for i := 0; i < 10; i++ {
		if !l.Allow("exec", "cli:u1") {
			t.Fatalf("call %d should be allowed", i+1)
		}
		l.Record("exec", "cli:u1")
	}
	if l.Allow("exec", "cli:u1") {
		t.Error("11th exec call within window should be rejected")
	}
	// Other tools are unaffected.
	if !l.Allow("read_file", "cli:u1") {
		t.Error("unrelated tool should still be allowed")
	}
}

func TestLimiter_WindowSlides(t *testing.T) {
	l, now := newTestLimiter(DefaultConfig())

	for i := 0; i < 10; i++ {
		l.Record("exec", "cli:u1")
	}
	if l.Allow("exec", "cli:u1") {
		t.Fatal("should be rejected at limit")
	}

	*now = now.Add(Window + time.Second)
	if !l.Allow("exec", "cli:u1") {
		t.Error("should be allowed after window slides past")
	}
}

func TestLimiter_PerSessionPerTool(t *testing.T) {
	l, _ := newTestLimiter(Config{
		PerTool:           map[string]int{},
		PerSessionPerTool: 3,
		Global:            100,
	})

	for i := 0; i < 3; i++ {
		if !l.Allow("read_file", "cli:u1") {
			t.Fatalf("call %d should be allowed", i+1)
		}
		l.Record("read_file", "cli:u1")
	}
	if l.Allow("read_file", "cli:u1") {
		t.Error("4th call from same session should be rejected")
	}
	if !l.Allow("read_file", "cli:u2") {
		t.Error("other session should be unaffected")
	}
}

func TestLimiter_GlobalLimit(t *testing.T) {
	l, _ := newTestLimiter(Config{
		PerTool:           map[string]int{},
		PerSessionPerTool: 1000,
		Global:            5,
	})

	for i := 0; i < 5; i++ {
		session := fmt.Sprintf("cli:u%d", i)
		if !l.Allow("list_dir", session) {
			t.Fatalf("call %d should be allowed", i+1)
		}
		l.Record("list_dir", session)
	}
	if l.Allow("list_dir", "cli:fresh") {
		t.Error("global limit should reject calls from any session")
	}
}

func TestLimiter_PruneRemovesEmptyKeys(t *testing.T) {
	l, now := newTestLimiter(DefaultConfig())
	l.Record("exec", "cli:u1")

	*now = now.Add(Window + time.Second)
	l.Allow("exec", "cli:u1")

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.calls[toolPrefix+"exec"]; ok {
		t.Error("expired key should be pruned")
	}
}
