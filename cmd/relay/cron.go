package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaylabs/relay/internal/config"
	"github.com/relaylabs/relay/internal/cron"
	"github.com/relaylabs/relay/pkg/models"
)

// cronPrinter is the publisher behind `relay cron run`: there is no
// live agent in this process, so the fired payload goes to stdout.
type cronPrinter struct{}

func (cronPrinter) Publish(msg *models.InboundMessage) {
	fmt.Printf("fired (background task): %s\n", msg.Content)
}

func (cronPrinter) PublishOutbound(msg *models.OutboundMessage) {
	fmt.Printf("fired (deliver to %s:%s): %s\n", msg.Channel, msg.ChatID, msg.Content)
}

func buildCronCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
		Long: `Manage scheduled jobs in the persistence file.

A running "relay serve" loads jobs at startup; changes made here are
picked up on its next start.`,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default relay.yaml)")

	open := func() (*cron.Scheduler, error) {
		cfg, err := config.Load(resolveConfigPath(configPath))
		if err != nil {
			return nil, err
		}
		store, err := cron.NewFileStore(cfg.CronFile())
		if err != nil {
			return nil, err
		}
		return cron.NewScheduler(store, cronPrinter{})
	}

	cmd.AddCommand(
		buildCronListCmd(open),
		buildCronShowCmd(open),
		buildCronAddCmd(open),
		buildCronUpdateCmd(open),
		buildCronRemoveCmd(open),
		buildCronEnableCmd(open, true),
		buildCronEnableCmd(open, false),
		buildCronRunCmd(open),
		buildCronClearCmd(open),
	)
	return cmd
}

type openScheduler func() (*cron.Scheduler, error)

func buildCronListCmd(open openScheduler) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduler, err := open()
			if err != nil {
				return err
			}
			jobs := scheduler.List("")
			if len(jobs) == 0 {
				fmt.Println("No scheduled jobs.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSCHEDULE\tENABLED\tNEXT FIRE\tMESSAGE")
			for _, job := range jobs {
				next := "-"
				if job.NextFireAtMs > 0 {
					next = time.UnixMilli(job.NextFireAtMs).UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
					job.ID, job.Name, scheduleSummary(job.Schedule), job.Enabled, next, job.Payload.Message)
			}
			return w.Flush()
		},
	}
}

func buildCronShowCmd(open openScheduler) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduler, err := open()
			if err != nil {
				return err
			}
			job, err := scheduler.Get(args[0], "")
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(job, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func buildCronAddCmd(open openScheduler) *cobra.Command {
	var (
		name     string
		message  string
		every    time.Duration
		cronExpr string
		at       string
		deliver  bool
		channel  string
		chatID   string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a job",
		Example: `  relay cron add --message "check the feed" --every 15m
  relay cron add --message "morning summary" --cron "0 9 * * *"
  relay cron add --message "standup!" --at 2026-09-01T09:00:00Z \
      --deliver --channel telegram --chat-id 12345`,
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduler, err := open()
			if err != nil {
				return err
			}
			schedule, err := scheduleFromFlags(every, cronExpr, at)
			if err != nil {
				return err
			}
			job := &models.CronJob{
				Name:     name,
				Schedule: schedule,
				Payload: models.CronPayload{
					Message:       message,
					Deliver:       deliver,
					TargetChannel: models.ChannelType(channel),
					TargetChatID:  chatID,
				},
			}
			if err := scheduler.Add(job); err != nil {
				return err
			}
			fmt.Printf("Job %s scheduled (next fire %s)\n",
				job.ID, time.UnixMilli(job.NextFireAtMs).UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Job name")
	cmd.Flags().StringVar(&message, "message", "", "Task text the job runs when it fires")
	cmd.Flags().DurationVar(&every, "every", 0, "Fire interval, e.g. 15m")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "5-field cron expression")
	cmd.Flags().StringVar(&at, "at", "", "One-shot fire time, RFC3339")
	cmd.Flags().BoolVar(&deliver, "deliver", false, "Send the message directly instead of running an agent turn")
	cmd.Flags().StringVar(&channel, "channel", "", "Deliver target channel")
	cmd.Flags().StringVar(&chatID, "chat-id", "", "Deliver target chat id")
	return cmd
}

func buildCronUpdateCmd(open openScheduler) *cobra.Command {
	var (
		name     string
		message  string
		every    time.Duration
		cronExpr string
		at       string
	)
	cmd := &cobra.Command{
		Use:   "update <job-id>",
		Short: "Update a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduler, err := open()
			if err != nil {
				return err
			}
			var schedule *models.CronSchedule
			if every != 0 || cronExpr != "" || at != "" {
				parsed, err := scheduleFromFlags(every, cronExpr, at)
				if err != nil {
					return err
				}
				schedule = &parsed
			}
			err = scheduler.Update(args[0], "", func(job *models.CronJob) {
				if name != "" {
					job.Name = name
				}
				if message != "" {
					job.Payload.Message = message
				}
				if schedule != nil {
					job.Schedule = *schedule
				}
			})
			if err != nil {
				return err
			}
			fmt.Println("Job updated.")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Job name")
	cmd.Flags().StringVar(&message, "message", "", "Task text")
	cmd.Flags().DurationVar(&every, "every", 0, "Fire interval")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "5-field cron expression")
	cmd.Flags().StringVar(&at, "at", "", "One-shot fire time, RFC3339")
	return cmd
}

func buildCronRemoveCmd(open openScheduler) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Remove a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduler, err := open()
			if err != nil {
				return err
			}
			if err := scheduler.Remove(args[0], ""); err != nil {
				return err
			}
			fmt.Println("Job removed.")
			return nil
		},
	}
}

func buildCronEnableCmd(open openScheduler, enable bool) *cobra.Command {
	use, short := "enable <job-id>", "Enable a job"
	if !enable {
		use, short = "disable <job-id>", "Disable a job"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduler, err := open()
			if err != nil {
				return err
			}
			if err := scheduler.SetEnabled(args[0], "", enable); err != nil {
				return err
			}
			fmt.Println("Job updated.")
			return nil
		},
	}
}

func buildCronRunCmd(open openScheduler) *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-id>",
		Short: "Fire a job immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduler, err := open()
			if err != nil {
				return err
			}
			return scheduler.RunNow(args[0], "")
		},
	}
}

func buildCronClearCmd(open openScheduler) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduler, err := open()
			if err != nil {
				return err
			}
			removed, err := scheduler.Clear("")
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d job(s).\n", removed)
			return nil
		},
	}
}

func scheduleFromFlags(every time.Duration, cronExpr, at string) (models.CronSchedule, error) {
	kinds := 0
	if every != 0 {
		kinds++
	}
	if cronExpr != "" {
		kinds++
	}
	if at != "" {
		kinds++
	}
	if kinds != 1 {
		return models.CronSchedule{}, fmt.Errorf("provide exactly one of --every, --cron, or --at")
	}
	switch {
	case every != 0:
		return models.CronSchedule{Kind: models.ScheduleEvery, EveryMs: every.Milliseconds()}, nil
	case cronExpr != "":
		return models.CronSchedule{Kind: models.ScheduleCron, Expr: cronExpr}, nil
	default:
		parsed, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return models.CronSchedule{}, fmt.Errorf("invalid --at time %q: use RFC3339", at)
		}
		return models.CronSchedule{Kind: models.ScheduleAt, AtMs: parsed.UnixMilli()}, nil
	}
}

func scheduleSummary(s models.CronSchedule) string {
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
