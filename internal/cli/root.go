// Package cli implements livechatctl, the operator command line for the
// live chat service maintenance endpoints.
package cli

import (
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type options struct {
	server  string
	apiKey  string
	tenant  string
	timeout time.Duration
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "livechatctl",
		Short:         "Operate a live chat service",
		Long:          "livechatctl runs maintenance passes and health checks against a running live chat service.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)

	cmd.PersistentFlags().StringVar(&opts.server, "server", envOr("LIVECHAT_URL", "http://localhost:8086"), "service base URL")
	cmd.PersistentFlags().StringVar(&opts.apiKey, "api-key", os.Getenv("LIVECHAT_API_KEY"), "API key sent as a bearer token")
	cmd.PersistentFlags().StringVarP(&opts.tenant, "tenant", "t", "", "tenant id")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")

	cmd.AddCommand(newHealthCmd(opts))
	cmd.AddCommand(newSweepCmd(opts))
	cmd.AddCommand(newReconcileCmd(opts))
	cmd.AddCommand(newRebalanceCmd(opts))

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd(os.Stdout).Execute()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
