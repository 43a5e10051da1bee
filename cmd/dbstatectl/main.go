// Command dbstatectl drives a running test-data-api from the shell.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/JezSurfaceIT/secdevops-cicd-pipeline/internal/platform/env"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	Addr    string
	Timeout time.Duration
}

func main() {
	cmd := newRootCommand(os.Stdout)
	if err := cmd.Execute(); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "dbstatectl",
		Short:        "Inspect and switch the state of the test database",
		SilenceUsage: true,
	}
	cmd.SetOut(out)
	cmd.PersistentFlags().StringVar(&opts.Addr, "addr", env.String("DBSTATECTL_ADDR", "http://localhost:5000"), "base URL of the test-data-api")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Minute, "request timeout")

	cmd.AddCommand(
		newHealthCommand(opts),
		newGetCommand(opts),
		newSetCommand(opts),
		newResetCommand(opts),
		newBackupCommand(opts),
	)
	return cmd
}

func newHealthCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report service and database connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := newAPIClient(opts.Addr, opts.Timeout).get(cmd.Context(), "/health")
			return printBody(cmd, body, err)
		},
	}
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	var details, refresh bool
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show the detected and tracked database state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if details {
				q.Set("details", "true")
			}
			if refresh {
				q.Set("refresh", "true")
			}
			path := "/api/test/db-state"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			body, err := newAPIClient(opts.Addr, opts.Timeout).get(cmd.Context(), path)
			return printBody(cmd, body, err)
		},
	}
	cmd.Flags().BoolVar(&details, "details", false, "include table and row counts")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "store the detected state as the tracked state")
	return cmd
}

func newSetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "set <state>",
		Short:   "Apply a named state",
		Example: "  dbstatectl set framework",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state := strings.TrimSpace(args[0])
			if state == "" {
				return fmt.Errorf("state is required")
			}
			body, err := newAPIClient(opts.Addr, opts.Timeout).post(cmd.Context(), "/api/test/db-state", map[string]string{"state": state})
			return printBody(cmd, body, err)
		},
	}
}

func newResetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Re-apply the currently detected state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := newAPIClient(opts.Addr, opts.Timeout).post(cmd.Context(), "/api/test/db-reset", nil)
			return printBody(cmd, body, err)
		},
	}
}

func newBackupCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Write a timestamped database backup on the service host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := newAPIClient(opts.Addr, opts.Timeout).post(cmd.Context(), "/api/test/db-backup", nil)
			return printBody(cmd, body, err)
		},
	}
}

// printBody writes the response indented. Error bodies are printed too so the
// detected state after a failed transition is visible.
func printBody(cmd *cobra.Command, body []byte, err error) error {
	if len(body) > 0 {
		var buf bytes.Buffer
		if json.Indent(&buf, body, "", "  ") == nil {
			buf.WriteByte('\n')
			_, _ = cmd.OutOrStdout().Write(buf.Bytes())
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(body)))
		}
	}
	return err
}
