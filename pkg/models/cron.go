package models

// ScheduleKind identifies how a cron job fires.
type ScheduleKind string

const (
	ScheduleEvery ScheduleKind = "every"
	ScheduleCron  ScheduleKind = "cron"
	ScheduleAt    ScheduleKind = "at"
)

// CronSchedule is a tagged schedule variant. Exactly one of the
// kind-specific fields is meaningful.
type CronSchedule struct {
	Kind    ScheduleKind `json:"kind"`
	EveryMs int64        `json:"every_ms,omitempty"`
	Expr    string       `json:"expr,omitempty"`
	AtMs    int64        `json:"at_ms,omitempty"`
}

// CronPayload describes what a job does when it fires.
type CronPayload struct {
	Message       string      `json:"message"`
	Deliver       bool        `json:"deliver,omitempty"`
	TargetChannel ChannelType `json:"target_channel,omitempty"`
	TargetChatID  string      `json:"target_chat_id,omitempty"`
}

// CronJob is a persisted scheduled job.
//
// Owner is empty for jobs added via the CLI; jobs created through
// the in-turn cron tool carry the caller's owner key and all tool
// mutations are scoped to it.
type CronJob struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Owner          string         `json:"owner,omitempty"`
	Schedule       CronSchedule   `json:"schedule"`
	Payload        CronPayload    `json:"payload"`
	Enabled        bool           `json:"enabled"`
	CreatedAtMs    int64          `json:"created_at_ms"`
	NextFireAtMs   int64          `json:"next_fire_at_ms"`
	LastFireAtMs   int64          `json:"last_fire_at_ms,omitempty"`
	DeleteAfterRun bool           `json:"delete_after_run,omitempty"`
	State          map[string]any `json:"state,omitempty"`
}
