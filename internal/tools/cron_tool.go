package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relaylabs/relay/internal/cron"
	"github.com/relaylabs/relay/pkg/models"
)

// CronTool lets the model manage its own scheduled jobs. Every
// mutation is scoped to the calling conversation's owner key; jobs
// belonging to other conversations are invisible.
type CronTool struct {
	scheduler *cron.Scheduler
}

// NewCronTool creates the cron tool.
func NewCronTool(scheduler *cron.Scheduler) *CronTool {
	return &CronTool{scheduler: scheduler}
}

func (t *CronTool) Name() string { return "cron" }

func (t *CronTool) Description() string {
	return "Manage scheduled background tasks: add, list, show, update, or remove jobs. " +
		"Each job runs its message as a background task on schedule."
}

func (t *CronTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {"type": "string", "enum": ["add", "list", "show", "update", "remove"]},
			"job_id": {"type": "string", "description": "Job id for show/update/remove."},
			"name": {"type": "string", "description": "Human-readable job name."},
			"message": {"type": "string", "description": "Task text the job runs when it fires."},
			"every_seconds": {"type": "integer", "minimum": 1, "description": "Fire every N seconds."},
			"cron_expr": {"type": "string", "description": "5-field cron expression, e.g. '0 9 * * mon-fri'."},
			"at": {"type": "string", "description": "One-shot fire time, RFC3339."},
			"enabled": {"type": "boolean", "description": "For update: enable or disable the job."}
		},
		"required": ["action"]
	}`)
}

type cronToolInput struct {
	Action       string `json:"action"`
	JobID        string `json:"job_id"`
	Name         string `json:"name"`
	Message      string `json:"message"`
	EverySeconds int64  `json:"every_seconds"`
	CronExpr     string `json:"cron_expr"`
	At           string `json:"at"`
	Enabled      *bool  `json:"enabled"`
}

func (t *CronTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input cronToolInput
	if err := json.Unmarshal(params, &input); err != nil {
		return models.Errorf(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	owner := SessionKey(ctx)
	if owner == "" {
		return models.Errorf("no session: cron jobs require a conversation"), nil
	}

	switch input.Action {
	case "add":
		return t.add(owner, input)
	case "list":
		return t.list(owner)
	case "show":
		return t.show(owner, input.JobID)
	case "update":
		return t.update(owner, input)
	case "remove":
		return t.remove(owner, input.JobID)
	default:
		return models.Errorf(fmt.Sprintf("Unknown action %q", input.Action)), nil
	}
}

func (t *CronTool) add(owner string, input cronToolInput) (*models.ToolResult, error) {
	if strings.TrimSpace(input.Message) == "" {
		return models.Errorf("message is required"), nil
	}
	schedule, result := parseScheduleInput(input)
	if result != nil {
		return result, nil
	}
	job := &models.CronJob{
		Name:     input.Name,
		Owner:    owner,
		Schedule: schedule,
		Payload:  models.CronPayload{Message: input.Message},
	}
	if err := t.scheduler.Add(job); err != nil {
		return cronError(err), nil
	}
	return models.Success(fmt.Sprintf("Job %s scheduled (next fire %s)",
		job.ID, time.UnixMilli(job.NextFireAtMs).UTC().Format(time.RFC3339))), nil
}

func (t *CronTool) list(owner string) (*models.ToolResult, error) {
	jobs := t.scheduler.List(owner)
	if len(jobs) == 0 {
		return models.Success("No scheduled jobs."), nil
	}
	var b strings.Builder
	for _, job := range jobs {
		fmt.Fprintf(&b, "%s  %s  %s  %s\n",
			job.ID, describeSchedule(job.Schedule), enabledWord(job.Enabled), job.Payload.Message)
	}
	return models.Success(strings.TrimRight(b.String(), "\n")), nil
}

func (t *CronTool) show(owner, id string) (*models.ToolResult, error) {
	if id == "" {
		return models.Errorf("job_id is required"), nil
	}
	job, err := t.scheduler.Get(id, owner)
	if err != nil {
		return cronError(err), nil
	}
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return models.Errorf(fmt.Sprintf("encode job: %v", err)), nil
	}
	return models.Success(string(data)), nil
}

func (t *CronTool) update(owner string, input cronToolInput) (*models.ToolResult, error) {
	if input.JobID == "" {
		return models.Errorf("job_id is required"), nil
	}
	var schedule *models.CronSchedule
	if input.EverySeconds != 0 || input.CronExpr != "" || input.At != "" {
		parsed, result := parseScheduleInput(input)
		if result != nil {
			return result, nil
		}
		schedule = &parsed
	}
	err := t.scheduler.Update(input.JobID, owner, func(job *models.CronJob) {
		if input.Name != "" {
			job.Name = input.Name
		}
		if strings.TrimSpace(input.Message) != "" {
			job.Payload.Message = input.Message
		}
		if schedule != nil {
			job.Schedule = *schedule
		}
		if input.Enabled != nil {
			job.Enabled = *input.Enabled
		}
	})
	if err != nil {
		return cronError(err), nil
	}
	return models.Success("Job " + input.JobID + " updated"), nil
}

func (t *CronTool) remove(owner, id string) (*models.ToolResult, error) {
	if id == "" {
		return models.Errorf("job_id is required"), nil
	}
	if err := t.scheduler.Remove(id, owner); err != nil {
		return cronError(err), nil
	}
	return models.Success("Job " + id + " removed"), nil
}

// parseScheduleInput maps tool parameters to a schedule, enforcing
// exactly one schedule kind.
func parseScheduleInput(input cronToolInput) (models.CronSchedule, *models.ToolResult) {
	kinds := 0
	if input.EverySeconds != 0 {
		kinds++
	}
	if input.CronExpr != "" {
		kinds++
	}
	if input.At != "" {
		kinds++
	}
	if kinds != 1 {
		return models.CronSchedule{}, models.Errorf("provide exactly one of every_seconds, cron_expr, or at")
	}

	switch {
	case input.EverySeconds != 0:
		if input.EverySeconds < 1 {
			return models.CronSchedule{}, models.Errorf("every_seconds must be at least 1")
		}
		return models.CronSchedule{Kind: models.ScheduleEvery, EveryMs: input.EverySeconds * 1000}, nil
	case input.CronExpr != "":
		schedule := models.CronSchedule{Kind: models.ScheduleCron, Expr: input.CronExpr}
		if err := cron.ValidateSchedule(schedule); err != nil {
			return models.CronSchedule{}, models.Errorf(err.Error())
		}
		return schedule, nil
	default:
		at, err := time.Parse(time.RFC3339, input.At)
		if err != nil {
			return models.CronSchedule{}, models.Errorf(fmt.Sprintf("invalid at time %q: use RFC3339", input.At))
		}
		if !at.After(time.Now()) {
			return models.CronSchedule{}, models.Errorf("at time must be in the future")
		}
		return models.CronSchedule{Kind: models.ScheduleAt, AtMs: at.UnixMilli()}, nil
	}
}

// cronError maps scheduler errors to tool results. Cross-owner
// access is a policy denial, not a lookup failure.
func cronError(err error) *models.ToolResult {
	switch {
	case errors.Is(err, cron.ErrNotOwner):
		return models.AccessDenied("job belongs to another conversation")
	case errors.Is(err, cron.ErrJobNotFound):
		return models.Errorf("job not found")
	default:
		return models.Errorf(err.Error())
	}
}

func describeSchedule(s models.CronSchedule) string {
	switch s.Kind {
	case models.ScheduleEvery:
		return fmt.Sprintf("every %s", time.Duration(s.EveryMs)*time.Millisecond)
	case models.ScheduleCron:
		return "cron " + s.Expr
	case models.ScheduleAt:
		return "at " + time.UnixMilli(s.AtMs).UTC().Format(time.RFC3339)
	default:
		return string(s.Kind)
	}
}

func enabledWord(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
