package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/api"
	"github.com/phrazzld/repurpose/internal/client"
	"github.com/phrazzld/repurpose/internal/service/auth"
	"github.com/spf13/cobra"
)

type submitOptions struct {
	Kind     string
	Input    string
	File     string
	Tone     string
	Topics   []string
	Wait     bool
	Interval time.Duration
	Attempts int
}

func newSubmitCommand(root *rootOptions) *cobra.Command {
	opts := &submitOptions{}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit content for conversion",
		Long: `Submits a source for conversion into an X thread, a LinkedIn post and a
carousel. The input is a video or article URL, or text read from --file
("-" for stdin).

Example:
  convertctl submit --kind text --file notes.md --tone tecnico --topic go --wait
  convertctl submit --kind video --input https://youtu.be/abc --tone casual`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Kind, "kind", "text", "source kind (video|article|text)")
	f.StringVar(&opts.Input, "input", "", "URL or inline text")
	f.StringVar(&opts.File, "file", "", "read the input from a file, - for stdin")
	f.StringVar(&opts.Tone, "tone", "profesional", "tone (casual|profesional|tecnico|inspirador|humoristico)")
	f.StringSliceVar(&opts.Topics, "topic", nil, "topic to emphasise, repeatable")
	f.BoolVar(&opts.Wait, "wait", false, "poll until the conversion finishes")
	f.DurationVar(&opts.Interval, "interval", client.DefaultPollInterval, "poll interval with --wait")
	f.IntVar(&opts.Attempts, "attempts", client.DefaultPollMaxAttempts, "maximum polls with --wait")
	cmd.MarkFlagsMutuallyExclusive("input", "file")

	return cmd
}

func readInput(cmd *cobra.Command, opts *submitOptions) (string, error) {
	switch opts.File {
	case "":
		if strings.TrimSpace(opts.Input) == "" {
			return "", errors.New("one of --input or --file is required")
		}
		return opts.Input, nil
	case "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return "", fmt.Errorf("failed to read input file: %w", err)
		}
		return string(data), nil
	}
}

func runSubmit(cmd *cobra.Command, root *rootOptions, opts *submitOptions) error {
	c, err := root.client()
	if err != nil {
		return err
	}
	input, err := readInput(cmd, opts)
	if err != nil {
		return err
	}

	created, err := c.Create(cmd.Context(), api.CreateConversionRequest{
		SourceKind: opts.Kind,
		InputValue: input,
		Tone:       opts.Tone,
		Topics:     opts.Topics,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !opts.Wait {
		if root.jsonOutput() {
			return printJSON(out, created)
		}
		fmt.Fprintf(out, "job %s %s (%d/%d conversions used)\n", created.JobID, created.State,
			created.UsageSnapshot.ConversionsUsed, created.UsageSnapshot.ConversionsLimit)
		return nil
	}

	return waitAndPrint(cmd, root, c, created.JobID, opts.Interval, opts.Attempts)
}

func newStatusCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the state of a conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id: %w", err)
			}
			c, err := root.client()
			if err != nil {
				return err
			}
			status, err := c.Status(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), root, status)
		},
	}
}

func newWaitCommand(root *rootOptions) *cobra.Command {
	var interval time.Duration
	var attempts int

	cmd := &cobra.Command{
		Use:   "wait <job-id>",
		Short: "Poll a conversion until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id: %w", err)
			}
			c, err := root.client()
			if err != nil {
				return err
			}
			return waitAndPrint(cmd, root, c, id, interval, attempts)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", client.DefaultPollInterval, "poll interval")
	cmd.Flags().IntVar(&attempts, "attempts", client.DefaultPollMaxAttempts, "maximum polls")
	return cmd
}

func waitAndPrint(
	cmd *cobra.Command,
	root *rootOptions,
	c *client.Client,
	id uuid.UUID,
	interval time.Duration,
	attempts int,
) error {
	errOut := cmd.ErrOrStderr()
	status, err := c.Wait(cmd.Context(), id, client.PollOptions{
		Interval:    interval,
		MaxAttempts: attempts,
		OnPoll: func(attempt int, s *api.ConversionStatusResponse) {
			fmt.Fprintf(errOut, "poll %d: %s [%s]\n", attempt, s.State, strings.Join(s.CompletedFormats, ","))
		},
	})
	if err != nil {
		return err
	}
	if err := printStatus(cmd.OutOrStdout(), root, status); err != nil {
		return err
	}
	if status.Error != "" {
		return fmt.Errorf("%w: %s", errJobFailed, status.Error)
	}
	return nil
}

func printStatus(w io.Writer, root *rootOptions, s *api.ConversionStatusResponse) error {
	if root.jsonOutput() {
		return printJSON(w, s)
	}

	fmt.Fprintf(w, "job %s %s\n", s.JobID, s.State)
	if len(s.CompletedFormats) > 0 {
		fmt.Fprintf(w, "formats: %s\n", strings.Join(s.CompletedFormats, ", "))
	}
	if s.Error != "" {
		fmt.Fprintf(w, "error: %s\n", s.Error)
	}
	for _, o := range s.Outputs {
		fmt.Fprintf(w, "\n== %s (v%d, %d tokens) ==\n%s\n", o.Format, o.Version, o.TokensUsed, o.Content)
	}
	if s.UsageSnapshot != nil {
		fmt.Fprintf(w, "\nusage: %d/%d conversions (%s)\n",
			s.UsageSnapshot.ConversionsUsed, s.UsageSnapshot.ConversionsLimit, s.UsageSnapshot.Plan)
	}
	return nil
}

func newUsageCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show this month's conversion usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := root.client()
			if err != nil {
				return err
			}
			usage, err := c.Usage(cmd.Context())
			if err != nil {
				return err
			}
			if root.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), usage)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s plan: %d/%d conversions since %s\n",
				usage.Plan, usage.ConversionsUsed, usage.ConversionsLimit, usage.PeriodStart.Format("2006-01-02"))
			return nil
		},
	}
}

// newTokenCommand mints a development token signed with the server secret.
func newTokenCommand() *cobra.Command {
	var (
		secret string
		user   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token",
		Long: `Mints an HS256 token whose subject is the user id, signed with the same
secret the server verifies with. Intended for local development only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("CONVERT_AUTH_JWT_SECRET")
			}
			svc, err := auth.NewJWTService(secret)
			if err != nil {
				return err
			}

			userID := uuid.New()
			if user != "" {
				if userID, err = uuid.Parse(user); err != nil {
					return fmt.Errorf("invalid user id: %w", err)
				}
			}

			token, err := svc.GenerateToken(userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "signing secret, defaults to CONVERT_AUTH_JWT_SECRET")
	cmd.Flags().StringVar(&user, "user", "", "user id, random when empty")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
