package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewTenantCmd создаёт группу команд для просмотра блокировок tenant'ов.
func NewTenantCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Inspect tenant locks",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "lock TENANT_ID",
			Short: "Show who holds the tenant lock",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				lock, err := clientFn().TenantLock(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				outputFn().Print(
					[]string{"TENANT", "LOCKED", "OWNER"},
					[][]string{{lock.TenantID, strconv.FormatBool(lock.Locked), lock.Owner}},
					lock,
				)
				return nil
			},
		},
		&cobra.Command{
			Use:   "locks",
			Short: "List locks held by the orchestrator",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				locks, err := clientFn().Locks(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, len(locks))
				for i, l := range locks {
					rows[i] = []string{l.TenantID, l.Owner, l.PlanID, l.TaskID, l.AcquiredAt}
				}
				outputFn().Print([]string{"TENANT", "OWNER", "PLAN", "TASK", "ACQUIRED"}, rows, locks)
				return nil
			},
		},
	)

	return cmd
}
