package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewPlanCmd создаёт группу команд для управления планами.
func NewPlanCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Manage rollout plans",
	}

	cmd.AddCommand(
		newPlanListCmd(clientFn, outputFn),
		newPlanCreateCmd(clientFn, outputFn),
		newPlanShowCmd(clientFn, outputFn),
		newPlanActionCmd(clientFn, outputFn, "start", "Start a plan"),
		newPlanActionCmd(clientFn, outputFn, "pause", "Pause a running plan"),
		newPlanActionCmd(clientFn, outputFn, "resume", "Resume a paused plan"),
		newPlanCancelCmd(clientFn, outputFn),
		newPlanDeleteCmd(clientFn, outputFn),
		newPlanTasksCmd(clientFn, outputFn),
		newPlanWaitCmd(clientFn, outputFn),
	)

	return cmd
}

var planHeaders = []string{"ID", "STATUS", "TASKS", "CONCURRENCY", "REASON", "CREATED"}

func planRow(p PlanResponse) []string {
	return []string{p.ID, p.Status, strconv.Itoa(len(p.TaskIDs)), strconv.Itoa(p.MaxConcurrency), p.Reason, p.CreatedAt}
}

var taskHeaders = []string{"ID", "TENANT", "UNIT", "VERSION", "STATUS", "STAGES", "DETAIL"}

func taskRow(t TaskResponse) []string {
	stages := ""
	if t.Checkpoint != nil {
		stages = strings.Join(t.Checkpoint.CompletedStageNames, ",")
	}
	detail := t.Reason
	switch {
	case t.SkipReason != "":
		detail = "skipped: " + t.SkipReason
	case t.Failure != nil:
		detail = t.Failure.Kind + ": " + t.Failure.Reason
		if t.Failure.Stage != "" {
			detail = t.Failure.Kind + " at " + t.Failure.Stage + ": " + t.Failure.Reason
		}
	}
	return []string{t.ID, t.TenantID, t.DeployUnit.ID, t.DeployUnit.Version, t.Status, stages, detail}
}

// printView выводит план и его задачи.
func printView(out *Output, view *PlanView) {
	if out.Structured() {
		out.Data(view)
		return
	}
	out.Table(planHeaders, [][]string{planRow(view.Plan)})
	out.Text("")
	out.Text("tasks: %d total, %d admitted, %d skipped, %d finished",
		view.Stats.Total, view.Stats.Admitted, view.Stats.Skipped, view.Stats.Finished)
	if len(view.Tasks) > 0 {
		rows := make([][]string, len(view.Tasks))
		for i, t := range view.Tasks {
			rows[i] = taskRow(t)
		}
		out.Text("")
		out.Table(taskHeaders, rows)
	}
}

func newPlanListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var statuses []string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			plans, err := clientFn().ListPlans(cmd.Context(), ListPlansOpts{Statuses: statuses, Limit: limit})
			if err != nil {
				return err
			}

			rows := make([][]string, len(plans))
			for i, p := range plans {
				rows[i] = planRow(p)
			}
			outputFn().Print(planHeaders, rows, plans)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (CREATED, READY, RUNNING, PAUSED, COMPLETED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newPlanCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string
	var start bool
	var maxConcurrency int
	var id string

	cmd := &cobra.Command{
		Use:   "create -f PLAN.yaml",
		Short: "Create a plan from a tenant config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := LoadPlanFile(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("start") {
				req.Start = start
			}
			if cmd.Flags().Changed("max-concurrency") {
				req.MaxConcurrency = maxConcurrency
			}
			if id != "" {
				req.ID = id
			}

			view, err := clientFn().CreatePlan(cmd.Context(), req)
			var apiErr *APIError
			if errors.As(err, &apiErr) && len(apiErr.Tenants) > 0 {
				outputFn().Error("locked tenants: " + strings.Join(apiErr.Tenants, ", "))
			}
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Plan created: %s (%s)", view.Plan.ID, view.Plan.Status))
			printView(out, view)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Plan file (YAML or JSON, - for stdin)")
	cmd.Flags().BoolVar(&start, "start", false, "Start the plan right away")
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 0, "Override max concurrency from the file")
	cmd.Flags().StringVar(&id, "id", "", "Plan ID (generated if empty)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newPlanShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show plan details and tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := clientFn().GetPlan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printView(outputFn(), view)
			return nil
		},
	}
}

func newPlanActionCmd(clientFn func() *Client, outputFn func() *Output, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := clientFn().PlanAction(cmd.Context(), args[0], action)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Plan %s: %s", view.Plan.ID, view.Plan.Status))
			if out.Structured() {
				out.Data(view)
			}
			return nil
		},
	}
}

func newPlanCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a plan (no rollback)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := clientFn().CancelPlan(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Plan cancelled: %s", view.Plan.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Cancellation reason")
	return cmd
}

func newPlanDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a finished plan and its checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().DeletePlan(cmd.Context(), args[0]); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Plan deleted: %s", args[0]))
			return nil
		},
	}
}

func newPlanTasksCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "tasks PLAN_ID",
		Short: "List tasks of a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := clientFn().ListTasks(cmd.Context(), args[0], statuses...)
			if err != nil {
				return err
			}

			rows := make([][]string, len(tasks))
			for i, t := range tasks {
				rows[i] = taskRow(t)
			}
			outputFn().Print(taskHeaders, rows, tasks)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by task status")
	return cmd
}

// terminalPlanStatuses — статусы, после которых план не меняется.
var terminalPlanStatuses = map[string]bool{
	"COMPLETED": true,
	"FAILED":    true,
	"CANCELLED": true,
}

func newPlanWaitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var interval, timeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait ID",
		Short: "Wait until a plan reaches a terminal status",
		Long:  "Polls the plan until COMPLETED, FAILED or CANCELLED. Exits non-zero unless the plan COMPLETED.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			last := ""
			for {
				view, err := client.GetPlan(ctx, args[0])
				if err != nil {
					return err
				}
				if view.Plan.Status != last {
					last = view.Plan.Status
					out.Success(fmt.Sprintf("%s %s %s", time.Now().Format(time.TimeOnly), view.Plan.ID, summary(view)))
				}
				if terminalPlanStatuses[view.Plan.Status] {
					printView(out, view)
					if view.Plan.Status != "COMPLETED" {
						return fmt.Errorf("plan %s finished with status %s", view.Plan.ID, view.Plan.Status)
					}
					return nil
				}

				select {
				case <-ctx.Done():
					return fmt.Errorf("waiting for plan %s: %w", args[0], ctx.Err())
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 = no limit)")
	return cmd
}

// summary — статус плана со счётчиками задач по статусам.
func summary(view *PlanView) string {
	keys := make([]string, 0, len(view.Stats.ByStatus))
	for k := range view.Stats.ByStatus {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, view.Stats.ByStatus[k])
	}
	return view.Plan.Status + " [" + strings.Join(parts, " ") + "]"
}
