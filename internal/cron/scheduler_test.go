package cron

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/relaylabs/relay/pkg/models"
)

type capturePublisher struct {
	mu       sync.Mutex
	inbound  []*models.InboundMessage
	outbound []*models.OutboundMessage
}

func (p *capturePublisher) Publish(msg *models.InboundMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inbound = append(p.inbound, msg)
}

func (p *capturePublisher) PublishOutbound(msg *models.OutboundMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outbound = append(p.outbound, msg)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestScheduler(t *testing.T) (*Scheduler, *capturePublisher, *testClock, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cron.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	publisher := &capturePublisher{}
	clock := &testClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	scheduler, err := NewScheduler(store, publisher, WithNow(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	return scheduler, publisher, clock, path
}

func everyJob(message string, interval time.Duration) *models.CronJob {
	return &models.CronJob{
		Name:     "test",
		Schedule: models.CronSchedule{Kind: models.ScheduleEvery, EveryMs: interval.Milliseconds()},
		Payload:  models.CronPayload{Message: message},
	}
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		name     string
		schedule models.CronSchedule
		wantErr  bool
	}{
		{"every ok", models.CronSchedule{Kind: models.ScheduleEvery, EveryMs: 60000}, false},
		{"every sub-second", models.CronSchedule{Kind: models.ScheduleEvery, EveryMs: 500}, true},
		{"every with expr", models.CronSchedule{Kind: models.ScheduleEvery, EveryMs: 60000, Expr: "* * * * *"}, true},
		{"cron ok", models.CronSchedule{Kind: models.ScheduleCron, Expr: "0 9 * * mon-fri"}, false},
		{"cron descriptor", models.CronSchedule{Kind: models.ScheduleCron, Expr: "@daily"}, false},
		{"cron bad expr", models.CronSchedule{Kind: models.ScheduleCron, Expr: "not a schedule"}, true},
		{"cron empty", models.CronSchedule{Kind: models.ScheduleCron}, true},
		{"cron with at", models.CronSchedule{Kind: models.ScheduleCron, Expr: "@daily", AtMs: 1}, true},
		{"at ok", models.CronSchedule{Kind: models.ScheduleAt, AtMs: 1}, false},
		{"at missing", models.CronSchedule{Kind: models.ScheduleAt}, true},
		{"unknown kind", models.CronSchedule{Kind: "weekly"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchedule(tt.schedule)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSchedule() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNextFire(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)

	next, ok, err := NextFire(models.CronSchedule{Kind: models.ScheduleEvery, EveryMs: 60000}, now)
	if err != nil || !ok || next != now.Add(time.Minute) {
		t.Errorf("every: next=%v ok=%v err=%v", next, ok, err)
	}

	next, ok, err = NextFire(models.CronSchedule{Kind: models.ScheduleCron, Expr: "0 9 * * *"}, now)
	if err != nil || !ok {
		t.Fatalf("cron: ok=%v err=%v", ok, err)
	}
	if next.Hour() != 9 || next.Minute() != 0 || next.Day() != 1 {
		t.Errorf("cron next = %v, want 09:00 same day", next)
	}

	past := models.CronSchedule{Kind: models.ScheduleAt, AtMs: now.Add(-time.Hour).UnixMilli()}
	if _, ok, _ := NextFire(past, now); ok {
		t.Error("past one-shot reported a next fire")
	}
	future := models.CronSchedule{Kind: models.ScheduleAt, AtMs: now.Add(time.Hour).UnixMilli()}
	next, ok, _ = NextFire(future, now)
	if !ok || next.UnixMilli() != future.AtMs {
		t.Errorf("future one-shot next = %v ok=%v", next, ok)
	}
}

func TestSchedulerFiresSyntheticMessage(t *testing.T) {
	scheduler, publisher, clock, _ := newTestScheduler(t)

	job := everyJob("check the feed", time.Minute)
	if err := scheduler.Add(job); err != nil {
		t.Fatal(err)
	}
	if scheduler.RunOnce() != 0 {
		t.Error("fired before due")
	}

	clock.Advance(61 * time.Second)
	if scheduler.RunOnce() != 1 {
		t.Fatal("job did not fire")
	}
	if len(publisher.inbound) != 1 {
		t.Fatalf("inbound = %d", len(publisher.inbound))
	}
	msg := publisher.inbound[0]
	if msg.Channel != models.ChannelSystem || msg.SenderID != "cron:"+job.ID || msg.Content != "check the feed" {
		t.Errorf("synthetic message = %+v", msg)
	}

	// Advanced, not refired.
	if scheduler.RunOnce() != 0 {
		t.Error("job refired within the interval")
	}
	clock.Advance(61 * time.Second)
	if scheduler.RunOnce() != 1 {
		t.Error("job did not fire on the next interval")
	}
}

func TestSchedulerOneShotRemovedAfterFire(t *testing.T) {
	scheduler, publisher, clock, _ := newTestScheduler(t)

	job := &models.CronJob{
		Name:     "remind",
		Schedule: models.CronSchedule{Kind: models.ScheduleAt, AtMs: clock.Now().Add(time.Minute).UnixMilli()},
		Payload:  models.CronPayload{Message: "time's up"},
	}
	if err := scheduler.Add(job); err != nil {
		t.Fatal(err)
	}
	if !job.DeleteAfterRun {
		t.Error("one-shot not marked delete_after_run")
	}

	clock.Advance(2 * time.Minute)
	if scheduler.RunOnce() != 1 {
		t.Fatal("one-shot did not fire")
	}
	if len(publisher.inbound) != 1 {
		t.Errorf("inbound = %d", len(publisher.inbound))
	}
	if jobs := scheduler.List(""); len(jobs) != 0 {
		t.Errorf("one-shot still present after fire: %+v", jobs)
	}
}

func TestSchedulerDeliverJobSendsOutbound(t *testing.T) {
	scheduler, publisher, clock, _ := newTestScheduler(t)

	job := &models.CronJob{
		Name:     "standup",
		Schedule: models.CronSchedule{Kind: models.ScheduleEvery, EveryMs: 60000},
		Payload: models.CronPayload{
			Message:       "standup in 5 minutes",
			Deliver:       true,
			TargetChannel: models.ChannelTelegram,
			TargetChatID:  "team",
		},
	}
	if err := scheduler.Add(job); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Minute)
	scheduler.RunOnce()

	if len(publisher.inbound) != 0 {
		t.Error("deliver job ran an agent turn")
	}
	if len(publisher.outbound) != 1 {
		t.Fatalf("outbound = %d", len(publisher.outbound))
	}
	out := publisher.outbound[0]
	if out.Channel != models.ChannelTelegram || out.ChatID != "team" || out.Content != "standup in 5 minutes" {
		t.Errorf("outbound = %+v", out)
	}
}

func TestSchedulerOwnerIsolation(t *testing.T) {
	scheduler, _, _, _ := newTestScheduler(t)

	mine := everyJob("mine", time.Minute)
	mine.Owner = "cli:me"
	theirs := everyJob("theirs", time.Minute)
	theirs.Owner = "telegram:them"
	unowned := everyJob("cli-added", time.Minute)
	for _, job := range []*models.CronJob{mine, theirs, unowned} {
		if err := scheduler.Add(job); err != nil {
			t.Fatal(err)
		}
	}

	if got := len(scheduler.List("cli:me")); got != 1 {
		t.Errorf("owner list = %d jobs, want 1", got)
	}
	if got := len(scheduler.List("")); got != 3 {
		t.Errorf("unrestricted list = %d jobs, want 3", got)
	}

	if err := scheduler.Remove(theirs.ID, "cli:me"); err != ErrNotOwner {
		t.Errorf("cross-owner remove error = %v, want ErrNotOwner", err)
	}
	if err := scheduler.Remove(theirs.ID, ""); err != nil {
		t.Errorf("unrestricted remove error = %v", err)
	}
	if err := scheduler.Remove("nope", ""); err != ErrJobNotFound {
		t.Errorf("missing job error = %v, want ErrJobNotFound", err)
	}
}

func TestSchedulerAddValidation(t *testing.T) {
	scheduler, _, clock, _ := newTestScheduler(t)

	noMessage := everyJob("  ", time.Minute)
	if err := scheduler.Add(noMessage); err == nil {
		t.Error("empty message accepted")
	}
	pastAt := &models.CronJob{
		Schedule: models.CronSchedule{Kind: models.ScheduleAt, AtMs: clock.Now().Add(-time.Second).UnixMilli()},
		Payload:  models.CronPayload{Message: "late"},
	}
	if err := scheduler.Add(pastAt); err == nil {
		t.Error("past one-shot accepted")
	}
}

func TestSchedulerUpdatePreservesIdentity(t *testing.T) {
	scheduler, _, _, _ := newTestScheduler(t)

	job := everyJob("original", time.Minute)
	job.Owner = "cli:me"
	job.State = map[string]any{"counter": 3.0}
	if err := scheduler.Add(job); err != nil {
		t.Fatal(err)
	}

	err := scheduler.Update(job.ID, "cli:me", func(j *models.CronJob) {
		j.Payload.Message = "updated"
		j.ID = "hijacked"
		j.Owner = "telegram:them"
		j.State = nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := scheduler.Get(job.ID, "cli:me")
	if err != nil {
		t.Fatal(err)
	}
	if got.Payload.Message != "updated" {
		t.Errorf("message = %q", got.Payload.Message)
	}
	if got.ID != job.ID || got.Owner != "cli:me" || got.CreatedAtMs != job.CreatedAtMs {
		t.Errorf("identity fields mutated: %+v", got)
	}
	if got.State["counter"] != 3.0 {
		t.Errorf("state lost: %+v", got.State)
	}
}

func TestSchedulerDisabledJobDoesNotFire(t *testing.T) {
	scheduler, publisher, clock, _ := newTestScheduler(t)

	job := everyJob("ping", time.Minute)
	if err := scheduler.Add(job); err != nil {
		t.Fatal(err)
	}
	if err := scheduler.SetEnabled(job.ID, "", false); err != nil {
		t.Fatal(err)
	}

	clock.Advance(5 * time.Minute)
	if scheduler.RunOnce() != 0 || len(publisher.inbound) != 0 {
		t.Error("disabled job fired")
	}

	if err := scheduler.SetEnabled(job.ID, "", true); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Minute)
	if scheduler.RunOnce() != 1 {
		t.Error("re-enabled job did not fire")
	}
}

func TestSchedulerPersistenceAcrossRestart(t *testing.T) {
	scheduler, _, clock, path := newTestScheduler(t)

	recurring := everyJob("recurring", time.Minute)
	oneShot := &models.CronJob{
		Name:     "missed",
		Schedule: models.CronSchedule{Kind: models.ScheduleAt, AtMs: clock.Now().Add(time.Minute).UnixMilli()},
		Payload:  models.CronPayload{Message: "missed reminder"},
	}
	if err := scheduler.Add(recurring); err != nil {
		t.Fatal(err)
	}
	if err := scheduler.Add(oneShot); err != nil {
		t.Fatal(err)
	}

	// Restart after the one-shot's fire time has passed.
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	publisher := &capturePublisher{}
	lateClock := &testClock{now: clock.Now().Add(time.Hour)}
	restarted, err := NewScheduler(store, publisher, WithNow(lateClock.Now))
	if err != nil {
		t.Fatal(err)
	}
	if got := len(restarted.List("")); got != 2 {
		t.Fatalf("loaded %d jobs, want 2", got)
	}

	// The missed one-shot fires on the first tick, then disappears.
	if restarted.RunOnce() != 2 {
		t.Error("due jobs did not fire after restart")
	}
	found := false
	for _, msg := range publisher.inbound {
		if msg.Content == "missed reminder" {
			found = true
		}
	}
	if !found {
		t.Error("missed one-shot not delivered")
	}
	if got := len(restarted.List("")); got != 1 {
		t.Errorf("jobs after restart fire = %d, want recurring only", got)
	}
}

func TestSchedulerRunNow(t *testing.T) {
	scheduler, publisher, _, _ := newTestScheduler(t)

	job := everyJob("on demand", time.Hour)
	if err := scheduler.Add(job); err != nil {
		t.Fatal(err)
	}
	if err := scheduler.RunNow(job.ID, ""); err != nil {
		t.Fatal(err)
	}
	if len(publisher.inbound) != 1 {
		t.Errorf("inbound = %d", len(publisher.inbound))
	}
}

func TestSchedulerClearScopedByOwner(t *testing.T) {
	scheduler, _, _, _ := newTestScheduler(t)

	mine := everyJob("a", time.Minute)
	mine.Owner = "cli:me"
	other := everyJob("b", time.Minute)
	other.Owner = "cli:you"
	for _, job := range []*models.CronJob{mine, other} {
		if err := scheduler.Add(job); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := scheduler.Clear("cli:me")
	if err != nil || removed != 1 {
		t.Fatalf("Clear = %d, %v", removed, err)
	}
	if got := len(scheduler.List("")); got != 1 {
		t.Errorf("jobs left = %d", got)
	}
}
