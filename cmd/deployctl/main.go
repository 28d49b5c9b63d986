package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"deployflow/internal/bundle"
	"deployflow/internal/bus"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var apiBaseURL string

	cmd := &cobra.Command{
		Use:           "deployctl",
		Short:         "Operator utility for the deployflow fleet API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&apiBaseURL, "api", defaultAPIBaseURL(), "Base URL of the deployflow API")

	cmd.AddCommand(newTokensCommand(&apiBaseURL))
	cmd.AddCommand(newProfilesCommand(&apiBaseURL))
	cmd.AddCommand(newBundlesCommand(&apiBaseURL))
	cmd.AddCommand(newEventsCommand())
	return cmd
}

func defaultAPIBaseURL() string {
	if v := strings.TrimSpace(os.Getenv("DEPLOYFLOW_API")); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func newTokensCommand(apiBaseURL *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Manage enrollment tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newTokensListCommand(apiBaseURL))
	cmd.AddCommand(newTokensIssueCommand(apiBaseURL))
	cmd.AddCommand(newTokensRevokeCommand(apiBaseURL))
	return cmd
}

func newTokensListCommand(apiBaseURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List enrollment tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Tokens []struct {
					ID         int64      `json:"id"`
					Name       string     `json:"name"`
					TokenValue string     `json:"token_value"`
					ExpiresAt  *time.Time `json:"expires_at"`
				} `json:"tokens"`
			}
			if err := apiGet(cmd.Context(), *apiBaseURL, "/v1/tokens", &resp); err != nil {
				return err
			}
			for _, token := range resp.Tokens {
				expires := "never"
				if token.ExpiresAt != nil {
					expires = token.ExpiresAt.Format(time.RFC3339)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\texpires=%s\n",
					token.ID, token.Name, token.TokenValue, expires)
			}
			return nil
		},
	}
}

func newTokensIssueCommand(apiBaseURL *string) *cobra.Command {
	var (
		name        string
		description string
		ttl         time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a new enrollment token",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"name":        name,
				"description": description,
			}
			if ttl > 0 {
				body["expires_at"] = time.Now().Add(ttl).UTC().Format(time.RFC3339)
			}

			var resp struct {
				Token struct {
					ID         int64  `json:"id"`
					TokenValue string `json:"token_value"`
				} `json:"token"`
			}
			if err := apiPost(cmd.Context(), *apiBaseURL, "/v1/tokens", body, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token %d issued: %s\n", resp.Token.ID, resp.Token.TokenValue)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Token name")
	cmd.Flags().StringVar(&description, "description", "", "Optional description")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Optional validity window (e.g. 72h); zero means no expiry")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newTokensRevokeCommand(apiBaseURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an enrollment token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid token id %q", args[0])
			}
			if err := apiDelete(cmd.Context(), *apiBaseURL, fmt.Sprintf("/v1/tokens/%d", id)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token %d revoked\n", id)
			return nil
		},
	}
}

func newProfilesCommand(apiBaseURL *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Profile operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newProfilesApplyCommand(apiBaseURL))
	return cmd
}

func newProfilesApplyCommand(apiBaseURL *string) *cobra.Command {
	var deviceIDs []int64

	cmd := &cobra.Command{
		Use:   "apply <profile-id>",
		Short: "Apply a profile to devices, queueing one action per task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid profile id %q", args[0])
			}

			var resp struct {
				Created int `json:"created"`
				Skipped []struct {
					DeviceID int64  `json:"device_id"`
					TaskID   int64  `json:"task_id"`
					Reason   string `json:"reason"`
				} `json:"skipped"`
			}
			body := map[string]any{"device_ids": deviceIDs}
			path := fmt.Sprintf("/v1/profiles/%d/apply", id)
			if err := apiPost(cmd.Context(), *apiBaseURL, path, body, &resp); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "queued %d actions\n", resp.Created)
			for _, skip := range resp.Skipped {
				fmt.Fprintf(cmd.OutOrStdout(), "skipped device=%d task=%d: %s\n",
					skip.DeviceID, skip.TaskID, skip.Reason)
			}
			return nil
		},
	}

	cmd.Flags().Int64SliceVar(&deviceIDs, "devices", nil, "Device ids to apply the profile to")
	_ = cmd.MarkFlagRequired("devices")
	return cmd
}

func newBundlesCommand(apiBaseURL *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundles",
		Short: "Export and import signed configuration bundles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newBundlesExportCommand(apiBaseURL))
	cmd.AddCommand(newBundlesImportCommand(apiBaseURL))
	return cmd
}

func newBundlesExportCommand(apiBaseURL *string) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all scripts, software and profiles as a signed bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := bundle.NewSignerFromEnv()
			if err != nil {
				return err
			}
			_, err = bundle.Export(cmd.Context(), bundle.ExportConfig{
				APIBaseURL: *apiBaseURL,
				Output:     output,
				Signer:     signer,
				Stdout:     cmd.OutOrStdout(),
			})
			return err
		},
	}

	cmd.Flags().StringVar(&output, "output", "", "Destination bundle file (tar.zst)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newBundlesImportCommand(apiBaseURL *string) *cobra.Command {
	var bundleFile string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Verify a signed bundle and load it into the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := bundle.NewSignerFromEnv()
			if err != nil {
				return err
			}
			_, err = bundle.Import(cmd.Context(), bundle.ImportConfig{
				BundlePath: bundleFile,
				APIBaseURL: *apiBaseURL,
				Signer:     signer,
				Stdout:     cmd.OutOrStdout(),
			})
			return err
		},
	}

	cmd.Flags().StringVar(&bundleFile, "file", "", "Path to the bundle tar.zst")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newEventsCommand() *cobra.Command {
	var (
		natsURL string
		subject string
		durable string
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Event stream operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Print fleet events as they are published",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b, err := bus.New(natsURL)
			if err != nil {
				return fmt.Errorf("connect to nats: %w", err)
			}
			defer b.Close()

			sub, err := b.Subscribe(ctx, subject, durable, func(ctx context.Context, data []byte) error {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n",
					time.Now().UTC().Format(time.RFC3339), bytes.TrimSpace(data))
				return nil
			})
			if err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
			defer sub.Close()

			<-ctx.Done()
			return nil
		},
	}
	watch.Flags().StringVar(&natsURL, "nats", "nats://localhost:4222", "NATS server URL")
	watch.Flags().StringVar(&subject, "subject", "deployflow.>", "Subject filter")
	watch.Flags().StringVar(&durable, "durable", "deployctl-watch", "Durable consumer name")

	cmd.AddCommand(watch)
	return cmd
}

func apiGet(ctx context.Context, baseURL, path string, out any) error {
	return apiDo(ctx, http.MethodGet, baseURL, path, nil, out)
}

func apiPost(ctx context.Context, baseURL, path string, body, out any) error {
	return apiDo(ctx, http.MethodPost, baseURL, path, body, out)
}

func apiDelete(ctx context.Context, baseURL, path string) error {
	return apiDo(ctx, http.MethodDelete, baseURL, path, nil, nil)
}

func apiDo(ctx context.Context, method, baseURL, path string, body, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	url := strings.TrimRight(baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin := strings.TrimSpace(os.Getenv("DEPLOYFLOW_ADMIN_TOKEN")); admin != "" {
		req.Header.Set("Authorization", "Bearer "+admin)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
