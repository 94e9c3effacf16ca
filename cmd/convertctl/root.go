package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/phrazzld/repurpose/internal/client"
	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Exit codes
const (
	exitError     = 1
	exitRejected  = 2
	exitJobFailed = 3
)

// errJobFailed marks a conversion that reached the failed state.
var errJobFailed = errors.New("conversion failed")

// exitCode maps an error to the process exit code.
func exitCode(err error) int {
	switch {
	case errors.Is(err, errJobFailed):
		return exitJobFailed
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrQuotaExceeded),
		errors.Is(err, domain.ErrRateLimited), errors.Is(err, domain.ErrInputRejected):
		return exitRejected
	default:
		return exitError
	}
}

// rootOptions holds global settings for all commands. Values come from flags
// or CONVERTCTL_* environment variables.
type rootOptions struct {
	v *viper.Viper
}

func (o *rootOptions) client() (*client.Client, error) {
	url := strings.TrimSpace(o.v.GetString("url"))
	if url == "" {
		return nil, errors.New("api url is required (--url or CONVERTCTL_URL)")
	}
	token := strings.TrimSpace(o.v.GetString("token"))
	if token == "" {
		return nil, errors.New("token is required (--token or CONVERTCTL_TOKEN)")
	}
	return client.New(url, token), nil
}

func (o *rootOptions) jsonOutput() bool {
	return o.v.GetBool("json")
}

// newRootCommand creates the root command for convertctl.
func newRootCommand() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:           "convertctl",
		Short:         "Client for the content repurposing API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.String("url", "http://localhost:8080", "API base URL")
	flags.String("token", "", "bearer token")
	flags.Bool("json", false, "print raw JSON responses")

	opts.v.SetEnvPrefix("CONVERTCTL")
	opts.v.AutomaticEnv()
	for _, name := range []string{"url", "token", "json"} {
		_ = opts.v.BindPFlag(name, flags.Lookup(name))
	}

	cmd.AddCommand(newSubmitCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newWaitCommand(opts))
	cmd.AddCommand(newUsageCommand(opts))
	cmd.AddCommand(newTokenCommand())

	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
