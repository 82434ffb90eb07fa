package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"studytrail/internal/app"
	"studytrail/internal/config"
	"studytrail/internal/db"
	"studytrail/internal/domain"
	"studytrail/internal/progress"
	"studytrail/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "st",
	Short: "StudyTrail CLI",
	Long: `StudyTrail tracks learning progress as a topic -> goal -> task tree.
Core concepts:
- Workspace: your .studytrail directory holding the database; config lives in studytrail.yml.
- Topic: a subject you are studying; it owns goals and rolls up their progress.
- Goal: a milestone inside a topic, with ordered tasks.
- Task: a single to-do or a recurring habit (daily check-ins, counts, amounts).
- Check-in: one per task per calendar day; repeating it the same day is rejected.
- Record: a learning note attached to a task; completing a task can require one.
- Versions: every update carries the version you read; a stale version is rejected
  with the current one so you can merge instead of overwrite.
- Event log: diary of changes, view with 'st log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ST")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(topicCmd())
	rootCmd.AddCommand(goalCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(treeCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func topicCmd() *cobra.Command {
	topic := &cobra.Command{
		Use:   "topic",
		Short: "Manage topics",
		Long:  "Topics are the subjects you study. Each owns goals and shows aggregate progress over all their tasks.",
	}
	topic.AddCommand(topicCreateCmd())
	topic.AddCommand(topicListCmd())
	topic.AddCommand(topicShowCmd())
	topic.AddCommand(topicUpdateCmd())
	topic.AddCommand(topicArchiveCmd())
	topic.AddCommand(topicRestoreCmd())
	topic.AddCommand(topicInviteCmd())
	topic.AddCommand(topicUninviteCmd())
	return topic
}

func topicCreateCmd() *cobra.Command {
	var title, subject, desc string
	var collaborative bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, err := a.Gateway.CreateTopic(ctx, domain.Topic{
					Title:           title,
					Subject:         subject,
					Description:     desc,
					IsCollaborative: collaborative,
					OwnerID:         a.ActorID,
				}, a.ActorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "topic title")
	cmd.Flags().StringVar(&subject, "subject", "", "subject area")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().BoolVar(&collaborative, "collaborative", false, "allow collaborators")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func topicListCmd() *cobra.Command {
	var includeArchived bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if err := a.Store.Refresh(ctx); err != nil {
					return err
				}
				topics := a.Store.Topics()
				if includeArchived {
					all, err := a.Gateway.LoadTree(ctx, true)
					if err != nil {
						return err
					}
					topics = all
				}
				if viper.GetBool("json") {
					return printJSON(topics)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Goals", "Progress", "Version"})
				for _, t := range topics {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, len(t.Goals), fmt.Sprintf("%d%%", t.Progress), t.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeArchived, "archived", false, "include archived topics")
	return cmd
}

func topicShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, err := a.Gateway.FetchTopic(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func topicUpdateCmd() *cobra.Command {
	var title, subject, desc, status string
	var expectedVersion int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				var patch domain.TopicPatch
				if cmd.Flags().Changed("title") {
					patch.Title = &title
				}
				if cmd.Flags().Changed("subject") {
					patch.Subject = &subject
				}
				if cmd.Flags().Changed("description") {
					patch.Description = &desc
				}
				if cmd.Flags().Changed("status") {
					patch.Status = &status
				}
				var t domain.Topic
				var err error
				if cmd.Flags().Changed("expected-version") {
					t, err = a.Engine.UpdateTopic(ctx, args[0], expectedVersion, patch, a.ActorID)
				} else {
					t, err = a.Engine.UpdateTopicCompat(ctx, args[0], patch, a.ActorID)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "topic title")
	cmd.Flags().StringVar(&subject, "subject", "", "subject area")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status (active, archived)")
	cmd.Flags().IntVar(&expectedVersion, "expected-version", 0, "version read before editing")
	return cmd
}

func topicArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a topic (soft delete)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return a.Store.Archive(ctx, domain.KindTopic, args[0], a.ActorID)
			})
		},
	}
	return cmd
}

func topicRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Restore an archived topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return a.Engine.Restore(ctx, domain.KindTopic, args[0], a.ActorID)
			})
		},
	}
	return cmd
}

func topicInviteCmd() *cobra.Command {
	var user, permission string
	cmd := &cobra.Command{
		Use:   "invite <id>",
		Short: "Invite a collaborator to a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return fmt.Errorf("--user required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if err := a.Directory.EnsureUser(ctx, user, ""); err != nil {
					return err
				}
				return a.Gateway.InviteTopicCollaborator(ctx, args[0], user, permission, a.ActorID)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&permission, "permission", "view", "permission (view, edit)")
	return cmd
}

func topicUninviteCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "uninvite <id>",
		Short: "Remove a collaborator from a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return fmt.Errorf("--user required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return a.Gateway.RemoveTopicCollaborator(ctx, args[0], user, a.ActorID)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	return cmd
}

func goalCmd() *cobra.Command {
	goal := &cobra.Command{
		Use:   "goal",
		Short: "Manage goals",
		Long:  "Goals are milestones inside a topic. Their progress is the share of done tasks.",
	}
	goal.AddCommand(goalCreateCmd())
	goal.AddCommand(goalShowCmd())
	goal.AddCommand(goalUpdateCmd())
	goal.AddCommand(goalArchiveCmd())
	goal.AddCommand(goalRestoreCmd())
	goal.AddCommand(goalOwnerCmd())
	return goal
}

func goalCreateCmd() *cobra.Command {
	var topicID, title, desc, priority string
	var order int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if topicID == "" || title == "" {
				return fmt.Errorf("--topic and --title required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				g, err := a.Gateway.CreateGoal(ctx, domain.Goal{
					TopicID:     topicID,
					Title:       title,
					Description: desc,
					Priority:    priority,
					OrderIndex:  order,
				}, a.ActorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&topicID, "topic", "", "topic id")
	cmd.Flags().StringVar(&title, "title", "", "goal title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "medium", "priority (high, medium, low)")
	cmd.Flags().IntVar(&order, "order", 0, "order index")
	return cmd
}

func goalShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				g, err := a.Gateway.FetchGoal(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	return cmd
}

func goalUpdateCmd() *cobra.Command {
	var title, desc, status, priority string
	var order, expectedVersion int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				var patch domain.GoalPatch
				if cmd.Flags().Changed("title") {
					patch.Title = &title
				}
				if cmd.Flags().Changed("description") {
					patch.Description = &desc
				}
				if cmd.Flags().Changed("status") {
					patch.Status = &status
				}
				if cmd.Flags().Changed("priority") {
					patch.Priority = &priority
				}
				if cmd.Flags().Changed("order") {
					patch.OrderIndex = &order
				}
				var g domain.Goal
				var err error
				if cmd.Flags().Changed("expected-version") {
					g, err = a.Engine.UpdateGoal(ctx, args[0], expectedVersion, patch, a.ActorID)
				} else {
					g, err = a.Engine.UpdateGoalCompat(ctx, args[0], patch, a.ActorID)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "goal title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status (todo, focus, done, archived)")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (high, medium, low)")
	cmd.Flags().IntVar(&order, "order", 0, "order index")
	cmd.Flags().IntVar(&expectedVersion, "expected-version", 0, "version read before editing")
	return cmd
}

func goalArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a goal (soft delete)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return a.Store.Archive(ctx, domain.KindGoal, args[0], a.ActorID)
			})
		},
	}
	return cmd
}

func goalRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Restore an archived goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return a.Engine.Restore(ctx, domain.KindGoal, args[0], a.ActorID)
			})
		},
	}
	return cmd
}

func goalOwnerCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "set-owner <id>",
		Short: "Assign the goal owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return fmt.Errorf("--user required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				g, err := a.Gateway.SetGoalOwner(ctx, args[0], user, a.ActorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks are single to-dos or recurring habits. Recurring tasks take daily check-ins, counts, or amounts; single tasks flow todo -> in_progress -> done.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDoneCmd())
	task.AddCommand(taskCheckinCmd())
	task.AddCommand(taskAddCountCmd())
	task.AddCommand(taskAddAmountCmd())
	task.AddCommand(taskResetCmd())
	task.AddCommand(taskCancelCheckinCmd())
	task.AddCommand(taskActionsCmd())
	task.AddCommand(taskArchiveCmd())
	task.AddCommand(taskRestoreCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var goalID, title, desc, priority, taskType, unit string
	var order, targetCount int
	var targetAmount float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if goalID == "" || title == "" {
				return fmt.Errorf("--goal and --title required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, err := a.Gateway.CreateTask(ctx, domain.Task{
					GoalID:      goalID,
					Title:       title,
					Description: desc,
					Priority:    priority,
					OrderIndex:  order,
					TaskType:    taskType,
					OwnerID:     a.ActorID,
					TaskConfig: domain.TaskConfig{
						TargetCount:  targetCount,
						TargetAmount: targetAmount,
						Unit:         unit,
					},
				}, a.ActorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&goalID, "goal", "", "goal id")
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "medium", "priority (high, medium, low)")
	cmd.Flags().StringVar(&taskType, "type", "single", "task type (single, recurring_count, recurring_amount)")
	cmd.Flags().IntVar(&order, "order", 0, "order index")
	cmd.Flags().IntVar(&targetCount, "target-count", 0, "target count for recurring_count tasks")
	cmd.Flags().Float64Var(&targetAmount, "target-amount", 0, "target amount for recurring_amount tasks")
	cmd.Flags().StringVar(&unit, "unit", "", "amount unit, e.g. minutes or pages")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, err := a.Gateway.FetchTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, desc, status, priority string
	var order, expectedVersion int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				var patch domain.TaskPatch
				if cmd.Flags().Changed("title") {
					patch.Title = &title
				}
				if cmd.Flags().Changed("description") {
					patch.Description = &desc
				}
				if cmd.Flags().Changed("status") {
					patch.Status = &status
				}
				if cmd.Flags().Changed("priority") {
					patch.Priority = &priority
				}
				if cmd.Flags().Changed("order") {
					patch.OrderIndex = &order
				}
				var t domain.Task
				var err error
				if cmd.Flags().Changed("expected-version") {
					t, err = a.Engine.UpdateTask(ctx, args[0], expectedVersion, patch, a.ActorID)
				} else {
					t, err = a.Engine.UpdateTaskCompat(ctx, args[0], patch, a.ActorID)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status (todo, in_progress, done, archived)")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (high, medium, low)")
	cmd.Flags().IntVar(&order, "order", 0, "order index")
	cmd.Flags().IntVar(&expectedVersion, "expected-version", 0, "version read before editing")
	return cmd
}

func taskDoneCmd() *cobra.Command {
	var expectedVersion int
	var skipRecord bool
	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task done",
		Long:  "Completes a task. When the workspace requires learning records, at least one record must exist first; use --skip-record to bypass for this call.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				requireRecord := a.Engine.RequireRecordDefault()
				if skipRecord {
					requireRecord = false
				}
				var t domain.Task
				var err error
				if cmd.Flags().Changed("expected-version") {
					t, err = a.Engine.MarkTaskDone(ctx, args[0], expectedVersion, a.ActorID, requireRecord)
				} else {
					t, err = a.Engine.MarkTaskDoneCompat(ctx, args[0], a.ActorID, requireRecord)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().IntVar(&expectedVersion, "expected-version", 0, "version read before editing")
	cmd.Flags().BoolVar(&skipRecord, "skip-record", false, "bypass the record requirement for this call")
	return cmd
}

func taskCheckinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkin <id>",
		Short: "Check in on a recurring task for today",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, err := a.Engine.CheckIn(ctx, args[0], a.ActorID)
				if err != nil {
					return err
				}
				fmt.Printf("Checked in. Streak: %d (best %d)\n", t.ProgressData.CurrentStreak, t.ProgressData.LongestStreak)
				return printJSONOrTable(t.ProgressData)
			})
		},
	}
	return cmd
}

func taskAddCountCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "add-count <id>",
		Short: "Add to a counting task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, err := a.Engine.AddCount(ctx, args[0], a.ActorID, count)
				if err != nil {
					return err
				}
				return printJSONOrTable(t.ProgressData)
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "how many to add")
	return cmd
}

func taskAddAmountCmd() *cobra.Command {
	var amount float64
	var unit string
	cmd := &cobra.Command{
		Use:   "add-amount <id>",
		Short: "Add an amount to a quantity task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, err := a.Engine.AddAmount(ctx, args[0], a.ActorID, amount, unit)
				if err != nil {
					return err
				}
				return printJSONOrTable(t.ProgressData)
			})
		},
	}
	cmd.Flags().Float64Var(&amount, "amount", 0, "amount to add")
	cmd.Flags().StringVar(&unit, "unit", "", "unit, e.g. minutes")
	return cmd
}

func taskResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset <id>",
		Short: "Reset a task's accumulated progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, err := a.Engine.ResetProgress(ctx, args[0], a.ActorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t.ProgressData)
			})
		},
	}
	return cmd
}

func taskCancelCheckinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel-checkin <id>",
		Short: "Cancel today's check-in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, err := a.Engine.CancelTodayCheckIn(ctx, args[0], a.ActorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t.ProgressData)
			})
		},
	}
	return cmd
}

func taskActionsCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "actions <id>",
		Short: "List a task's action history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Gateway.ListActions(ctx, args[0], from, to)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Date", "Type", "Actor", "Timestamp"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ActionDate, it.ActionType, it.ActorID, it.ActionTimestamp})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "end date (YYYY-MM-DD)")
	return cmd
}

func taskArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a task (soft delete)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return a.Store.Archive(ctx, domain.KindTask, args[0], a.ActorID)
			})
		},
	}
	return cmd
}

func taskRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Restore an archived task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return a.Engine.Restore(ctx, domain.KindTask, args[0], a.ActorID)
			})
		},
	}
	return cmd
}

func recordCmd() *cobra.Command {
	rec := &cobra.Command{
		Use:   "record",
		Short: "Learning records",
		Long:  "Records are the notes you write about what you learned. Completing a task can require one.",
	}
	rec.AddCommand(recordAddCmd())
	rec.AddCommand(recordListCmd())
	return rec
}

func recordAddCmd() *cobra.Command {
	var taskID, title, content string
	var attachments []string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a learning record to a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID == "" || content == "" {
				return fmt.Errorf("--task and --content required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if _, err := a.Gateway.FetchTask(ctx, taskID); err != nil {
					return err
				}
				r, err := a.Records.Add(ctx, domain.Record{
					TaskID:      taskID,
					ActorID:     a.ActorID,
					Title:       title,
					Content:     content,
					Attachments: attachments,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	cmd.Flags().StringVar(&title, "title", "", "record title")
	cmd.Flags().StringVar(&content, "content", "", "what you learned")
	cmd.Flags().StringArrayVar(&attachments, "attachment", nil, "attachment URL (repeatable)")
	return cmd
}

func recordListCmd() *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records for a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID == "" {
				return fmt.Errorf("--task required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Records.ListByTask(ctx, taskID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show workspace progress",
		Long:  "The scoreboard: topics, goals, tasks and how much of it is done.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if err := a.Store.Refresh(ctx); err != nil {
					return err
				}
				topics := a.Store.Topics()
				var done, total, goals int
				for _, t := range topics {
					goals += len(t.Goals)
					d, n := progress.TopicStats(t)
					done += d
					total += n
				}
				out := map[string]any{
					"workspace_id": a.Config.Workspace.ID,
					"topics":       len(topics),
					"goals":        goals,
					"tasks":        total,
					"tasks_done":   done,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Workspace: %s\n", a.Config.Workspace.ID)
				fmt.Printf("Topics: %d  Goals: %d  Tasks: %d done / %d total\n", len(topics), goals, done, total)
				for _, t := range topics {
					fmt.Printf("  %s: %d%%\n", t.Title, t.Progress)
				}
				return nil
			})
		},
	}
	return cmd
}

func treeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the topic tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if err := a.Store.Refresh(ctx); err != nil {
					return err
				}
				topics := a.Store.Topics()
				if viper.GetBool("json") {
					return printJSON(topics)
				}
				for _, t := range topics {
					fmt.Printf("%s [%s] %d%%\n", t.Title, t.Status, t.Progress)
					for i, g := range t.Goals {
						printGoalTree(g, i == len(t.Goals)-1)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func printGoalTree(g domain.Goal, last bool) {
	connector := "├── "
	childPrefix := "│   "
	if last {
		connector = "└── "
		childPrefix = "    "
	}
	fmt.Printf("%s%s [%s] %d%%\n", connector, g.Title, g.Status, g.Progress)
	for i, t := range g.Tasks {
		c := "├── "
		if i == len(g.Tasks)-1 {
			c = "└── "
		}
		fmt.Printf("%s%s%s [%s]\n", childPrefix, c, t.Title, t.Status)
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage workspace config",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if viper.GetBool("json") {
					return printJSON(a.Config)
				}
				data, err := a.Config.ToYAML()
				if err != nil {
					return err
				}
				fmt.Print(string(data))
				return nil
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import config from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				a.Config = cfg
				return a.SaveConfig(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to config YAML")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: updates, actions, restores.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				events, err := a.Gateway.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyDeleteCmd())
	return ak
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Gateway.ListAPIKeys(ctx, a.ActorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return a.Gateway.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				authCfg := server.AuthConfig{
					JWTSecret: os.Getenv("ST_JWT_SECRET"),
					Logger:    a.Log,
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("ST_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Engine:    a.Engine,
					Gateway:   a.Gateway,
					Records:   a.Records,
					Directory: a.Directory,
					Workspace: a.Config,
					BasePath:  basePath,
					Auth:      authCfg,
					Log:       a.Log,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				fmt.Printf("Serving StudyTrail API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(zerolog.WarnLevel).With().Timestamp().Logger()
	a, err := app.Open(ctx, viper.GetString("workspace"), viper.GetString("actor-id"), log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
