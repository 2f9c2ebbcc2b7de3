package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// DefaultAPIURL — адрес API по умолчанию; переопределяется ROLLOUT_API_URL.
const DefaultAPIURL = "http://localhost:8082"

// NewRootCmd собирает корневую команду rollout.
func NewRootCmd(version string) *cobra.Command {
	var (
		apiURL     string
		jsonOutput bool
		format     string
	)

	rootCmd := &cobra.Command{
		Use:           "rollout",
		Short:         "Rollout CLI: multi-tenant configuration rollouts",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ParseFormat(format)
			return err
		},
	}

	defaultURL := DefaultAPIURL
	if v := os.Getenv("ROLLOUT_API_URL"); v != "" {
		defaultURL = v
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL")
	rootCmd.PersistentFlags().StringVarP(&format, "output", "o", string(FormatTable), "Output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Shorthand for --output json")

	clientFn := func() *Client { return NewClient(apiURL) }
	outputFn := func() *Output {
		f, _ := ParseFormat(format)
		if jsonOutput {
			f = FormatJSON
		}
		return NewOutputTo(rootCmd.OutOrStdout(), rootCmd.ErrOrStderr(), f)
	}

	rootCmd.AddCommand(
		NewPlanCmd(clientFn, outputFn),
		NewTaskCmd(clientFn, outputFn),
		NewTenantCmd(clientFn, outputFn),
	)

	return rootCmd
}
