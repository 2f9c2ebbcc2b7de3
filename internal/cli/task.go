package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewTaskCmd создаёт группу команд для управления задачами.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and control tenant tasks",
	}

	cmd.AddCommand(
		newTaskShowCmd(clientFn, outputFn),
		newTaskActionCmd(clientFn, outputFn, "pause", "Pause a running task at the next stage boundary"),
		newTaskActionCmd(clientFn, outputFn, "resume", "Resume a paused task"),
		newTaskCancelCmd(clientFn, outputFn),
	)

	return cmd
}

func newTaskShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show task details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := clientFn().GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			outputFn().Print(taskHeaders, [][]string{taskRow(*task)}, task)
			return nil
		},
	}
}

func newTaskActionCmd(clientFn func() *Client, outputFn func() *Output, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := clientFn().TaskAction(cmd.Context(), args[0], action)
			if err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Task %s: %s", task.ID, task.Status))
			return nil
		},
	}
}

func newTaskCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a task (no rollback)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := clientFn().CancelTask(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Task %s: %s", task.ID, task.Status))
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Cancellation reason")
	return cmd
}
