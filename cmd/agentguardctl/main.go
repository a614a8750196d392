// agentguardctl 是面向运维与联调的命令行工具，经由 REST API
// 提交意图、查询执行记录，并可驱动模拟代理产生测试流量。
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"AgentGuard-Chain/internal/agentsim"
	"AgentGuard-Chain/internal/submit"
	sdk "AgentGuard-Chain/sdk/go/agentguard"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var serverURL string

	rootCmd := &cobra.Command{
		Use:   "agentguardctl",
		Short: "submit intents and inspect executions",
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "daemon base URL")

	rootCmd.AddCommand(
		newSubmitCmd(&serverURL),
		newGetCmd(&serverURL),
		newListCmd(&serverURL),
		newStatsCmd(&serverURL),
		newSimulateCmd(&serverURL),
	)
	return rootCmd
}

func newSubmitCmd(serverURL *string) *cobra.Command {
	var (
		agentID string
		file    string
		wait    bool
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "submit an intent JSON document",
		Long: `Reads an intent from a file (or stdin with -f -) and submits it.

Examples:
  agentguardctl submit --agent trader-1 -f transfer.json
  cat swap.json | agentguardctl submit --agent trader-1 -f - --wait`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := readInput(file)
			if err != nil {
				return err
			}

			client, err := sdk.NewClient(*serverURL, nil)
			if err != nil {
				return err
			}
			exec, err := client.Submit(cmd.Context(), sdk.SubmitRequest{
				AgentID: agentID,
				Intent:  raw,
			})
			if err != nil {
				return err
			}
			if wait {
				exec, err = client.WaitForResult(cmd.Context(), exec.ID, time.Second)
				if err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), exec)
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "submitting agent id (required)")
	cmd.Flags().StringVarP(&file, "file", "f", "-", "intent JSON file, - for stdin")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the execution reaches a terminal status")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func newGetCmd(serverURL *string) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "get <execution-id>",
		Short: "fetch a single execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := sdk.NewClient(*serverURL, nil)
			if err != nil {
				return err
			}
			var exec sdk.Execution
			if wait {
				exec, err = client.WaitForResult(cmd.Context(), args[0], time.Second)
			} else {
				exec, err = client.GetExecution(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), exec)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the execution reaches a terminal status")
	return cmd
}

func newListCmd(serverURL *string) *cobra.Command {
	var (
		limit    int
		offset   int
		statuses []string
		agentID  string
		query    string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list recent executions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := sdk.NewClient(*serverURL, nil)
			if err != nil {
				return err
			}
			execs, err := client.ListExecutions(cmd.Context(), sdk.ListOptions{
				Limit:    limit,
				Offset:   offset,
				Statuses: statuses,
				AgentID:  agentID,
				Query:    query,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), execs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many results")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "filter by status (pending, running, confirmed, denied, failed)")
	cmd.Flags().StringVar(&agentID, "agent", "", "filter by agent id")
	cmd.Flags().StringVarP(&query, "query", "q", "", "fuzzy match on id, payload and errors")
	return cmd
}

func newStatsCmd(serverURL *string) *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "show execution counts by status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := sdk.NewClient(*serverURL, nil)
			if err != nil {
				return err
			}
			stats, err := client.GetStats(cmd.Context(), sdk.ListOptions{AgentID: agentID})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "filter by agent id")
	return cmd
}

func newSimulateCmd(serverURL *string) *cobra.Command {
	var (
		agentID   string
		chainName string
		walletID  string
		to        string
		count     int
		interval  time.Duration
		maxAmount int64
		seed      int64
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "drive a simulated agent against the daemon",
		Long: `Submits randomized transfer intents at a fixed cadence. Useful for
verifying that spend limits, rate limits and whitelists trip as configured
before pointing real agents at the daemon.

Examples:
  agentguardctl simulate --agent sim-1 --chain devnet --wallet hot-1 --to 0xabc --count 20
  agentguardctl simulate --agent sim-1 --chain devnet --wallet hot-1 --to 0xabc --interval 100ms`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := sdk.NewClient(*serverURL, nil)
			if err != nil {
				return err
			}
			strategy := agentsim.NewRandomTransfers(chainName, walletID, to, maxAmount, seed)
			runner := agentsim.NewRunner(agentID, strategy, &sdkSubmitter{client: client}, interval, count)
			return runner.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "sim-agent", "simulated agent id")
	cmd.Flags().StringVar(&chainName, "chain", "devnet", "target chain")
	cmd.Flags().StringVar(&walletID, "wallet", "", "sending wallet id (required)")
	cmd.Flags().StringVar(&to, "to", "", "recipient address (required)")
	cmd.Flags().IntVar(&count, "count", 10, "number of intents, 0 for unbounded")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "delay between submissions")
	cmd.Flags().Int64Var(&maxAmount, "max-amount", 1_000_000, "upper bound for random amounts")
	cmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "rng seed, fix it for reproducible runs")
	_ = cmd.MarkFlagRequired("wallet")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// sdkSubmitter 让模拟代理经由 REST API 提交，而不是直连服务层。
type sdkSubmitter struct {
	client *sdk.Client
}

func (s *sdkSubmitter) Submit(ctx context.Context, req submit.Request) (*submit.Submission, error) {
	exec, err := s.client.Submit(ctx, sdk.SubmitRequest{
		ID:      req.ID,
		AgentID: req.AgentID,
		Intent:  req.Intent,
	})
	if err != nil {
		return nil, err
	}
	return &submit.Submission{
		ID:      exec.ID,
		AgentID: exec.AgentID,
		Status:  submit.Status(exec.Status),
	}, nil
}

func readInput(file string) (json.RawMessage, error) {
	var (
		raw []byte
		err error
	)
	if file == "-" || file == "" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("读取意图失败: %w", err)
	}
	raw = []byte(strings.TrimSpace(string(raw)))
	if !json.Valid(raw) {
		return nil, fmt.Errorf("意图不是合法的 JSON")
	}
	return raw, nil
}

func printJSON(w io.Writer, payload any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
