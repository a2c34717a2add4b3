package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/taskrelay/internal/client"
	"github.com/dreamware/taskrelay/internal/config"
	"github.com/dreamware/taskrelay/internal/logging"
	"github.com/dreamware/taskrelay/internal/server"
)

type submitOptions struct {
	in           string
	out          string
	file         string
	eligibleOnly bool
	timeout      time.Duration
	asJSON       bool
}

func newRootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "relayctl",
		Short:         "Peer for the relay batch service",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log protocol activity to stderr")

	logger := func() *zap.Logger {
		level := "warn"
		if verbose {
			level = "debug"
		}
		log, err := logging.Setup(config.LogConfig{Level: level, Format: "console"})
		if err != nil {
			return zap.NewNop()
		}
		return log
	}

	root.AddCommand(newSubmitCmd(logger), newStatsCmd())
	return root
}

func newSubmitCmd(logger func() *zap.Logger) *cobra.Command {
	opts := submitOptions{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Send one batch and print the results by index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.timeout)
				defer cancel()
			}
			return submit(ctx, cmd.OutOrStdout(), opts, logger())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.in, "in", "127.0.0.1:5000", "service ingress address")
	f.StringVar(&opts.out, "out", "127.0.0.1:5001", "service egress address")
	f.StringVarP(&opts.file, "file", "f", "", "payload file (.json records or one payload per line)")
	f.BoolVar(&opts.eligibleOnly, "eligible-only", false, "send only records passing the selection criteria (.json only)")
	f.DurationVar(&opts.timeout, "timeout", 0, "give up after this long (0 waits forever)")
	f.BoolVar(&opts.asJSON, "json", false, "print the outcome as JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func submit(ctx context.Context, w io.Writer, opts submitOptions, log *zap.Logger) error {
	payloads, err := client.LoadPayloads(opts.file, opts.eligibleOnly)
	if err != nil {
		return err
	}

	start := time.Now()
	out, err := client.Submit(ctx, client.Options{
		IngressAddr: opts.in,
		EgressAddr:  opts.out,
		DialTimeout: 5 * time.Second,
		Logger:      log,
	}, payloads)
	if out == nil {
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(out); encErr != nil {
			return encErr
		}
	} else {
		for _, r := range out.Results {
			fmt.Fprintf(w, "%d;%d\n", r.Index, r.Value)
		}
		fmt.Fprintf(w, "received %d/%d results in %s\n", len(out.Results), len(payloads), time.Since(start).Round(time.Millisecond))
	}

	if err != nil {
		return err
	}
	if out.Announced != len(payloads) {
		return fmt.Errorf("service announced %d results for %d tasks", out.Announced, len(payloads))
	}
	return nil
}

func newStatsCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the counters of a running service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return fetchStats(cmd.Context(), cmd.OutOrStdout(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8090", "service status address (RELAY_STATUS_ADDR)")
	return cmd
}

func fetchStats(ctx context.Context, w io.Writer, addr string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/stats", nil)
	if err != nil {
		return err
	}
	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stats: %s", resp.Status)
	}

	var st server.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("decode stats: %w", err)
	}
	if st.RunID == "" {
		return errors.New("stats: empty response")
	}

	fmt.Fprintf(w, "run %s  state %s\n", st.RunID, st.State)
	fmt.Fprintf(w, "expected %d  received %d  computed %d  sent %d  failed %d\n",
		st.Stats.Expected, st.Stats.Received, st.Stats.Computed, st.Stats.Sent, st.Stats.Failed)
	return nil
}
