package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/user/liftcoach/internal/scheduler"
	"github.com/user/liftcoach/internal/state"
	"github.com/user/liftcoach/internal/types"
)

var (
	taskName     string
	taskPrompt   string
	taskSchedule string
	taskKey      string
	taskDisabled bool
)

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskRemoveCmd, taskEnableCmd, taskDisableCmd, taskRunCmd)

	f := taskAddCmd.Flags()
	f.StringVar(&taskName, "name", "", "unique task name")
	f.StringVar(&taskPrompt, "prompt", "", "what the coach is asked when the task fires")
	f.StringVar(&taskSchedule, "schedule", "", `cron expression, e.g. "0 18 * * 0" or "@daily"; empty means webhook only`)
	f.StringVar(&taskKey, "conversation-key", "", "conversation the task talks in, e.g. telegram:<user>:<chat>")
	f.BoolVar(&taskDisabled, "disabled", false, "add the task switched off")
	for _, name := range []string{"name", "prompt", "conversation-key"} {
		_ = taskAddCmd.MarkFlagRequired(name)
	}
}

func cliTaskStore() *state.TaskStore {
	return taskStore(loadConfig())
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage scheduled check-ins and webhook tasks",
	Long: `Tasks are prompts the coach runs on a cron schedule or when
POST /webhook/<name> is called. A running daemon picks up changes to the
task file on its own.`,
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a task",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var next time.Time
		if taskSchedule != "" {
			n, err := scheduler.NextRun(taskSchedule, time.Now())
			if err != nil {
				return err
			}
			next = n
		}
		err := cliTaskStore().Add(&state.Task{
			Name:            taskName,
			Prompt:          taskPrompt,
			Schedule:        taskSchedule,
			ConversationKey: taskKey,
			Enabled:         !taskDisabled,
		})
		if err != nil {
			return fmt.Errorf("add task: %w", err)
		}
		fmt.Printf("Task %q added.\n", taskName)
		if !next.IsZero() && !taskDisabled {
			fmt.Printf("First run: %s\n", next.Format("Mon 2006-01-02 15:04"))
		}
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks with their next and last runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := cliTaskStore().List()
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks. Add one with: liftcoach task add --name weekly-review --schedule \"0 18 * * 0\" ...")
			return nil
		}

		now := time.Now()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSCHEDULE\tENABLED\tCONVERSATION\tNEXT RUN\tLAST RUN")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\t%s\n",
				t.Name, orDash(t.Schedule), t.Enabled, t.ConversationKey, nextRun(t, now), lastRun(t))
		}
		return w.Flush()
	},
}

func nextRun(t *state.Task, now time.Time) string {
	if !t.Enabled || t.Schedule == "" {
		return "-"
	}
	next, err := scheduler.NextRun(t.Schedule, now)
	if err != nil {
		return "invalid schedule"
	}
	return next.Format("Mon 01-02 15:04")
}

func lastRun(t *state.Task) string {
	if t.LastRunAt.IsZero() {
		return "never"
	}
	return t.LastRunAt.Format("2006-01-02 15:04")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

var taskRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cliTaskStore().Remove(args[0]); err != nil {
			return fmt.Errorf("remove task: %w", err)
		}
		fmt.Printf("Task %q removed.\n", args[0])
		return nil
	},
}

var taskEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Switch a task on",
	Args:  cobra.ExactArgs(1),
	RunE:  setEnabled(true),
}

var taskDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Switch a task off without deleting it",
	Args:  cobra.ExactArgs(1),
	RunE:  setEnabled(false),
}

func setEnabled(enabled bool) func(*cobra.Command, []string) error {
	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	return func(cmd *cobra.Command, args []string) error {
		if err := cliTaskStore().SetEnabled(args[0], enabled); err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		fmt.Printf("Task %q %s.\n", args[0], verb)
		return nil
	}
}

var taskRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run a task once, now, and print the coach's reply",
	Long: `Run executes the task in this process on its own conversation, the way the
scheduler would, and prints the reply instead of delivering it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		a, err := buildApp(ctx, cfg, prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer a.Close()

		task, err := a.tasks.Get(args[0])
		if err != nil {
			return err
		}
		a.gateway.Start(ctx)
		defer a.gateway.Stop()

		reply, err := a.gateway.Ask(ctx, &types.InboundEvent{
			Source:          "cli",
			ConversationKey: types.ConversationKey(task.ConversationKey),
			Text:            task.Prompt,
		})
		if err != nil {
			return fmt.Errorf("run task %s: %w", task.Name, err)
		}
		if err := a.tasks.MarkRun(task.Name, time.Now()); err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	},
}
