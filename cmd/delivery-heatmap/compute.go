package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/cam3ron2/delivery-heatmap/internal/app"
	"github.com/cam3ron2/delivery-heatmap/internal/collect"
	"github.com/cam3ron2/delivery-heatmap/internal/heatmap"
	"github.com/cam3ron2/delivery-heatmap/internal/identity"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

type computeOptions struct {
	group  string
	start  string
	end    string
	format string
}

func newComputeCommand(root *rootOptions) *cobra.Command {
	opts := &computeOptions{}
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Compute the heatmap for one group and date range.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFormat(opts.format); err != nil {
				return err
			}
			env, err := setup(root.configPath)
			if err != nil {
				return err
			}
			defer env.close()

			source, err := collect.NewSourceFromConfig(env.cfg)
			if err != nil {
				return fmt.Errorf("build source: %w", err)
			}
			runtime := app.NewRuntime(env.cfg, source, env.logger)
			defer func() {
				_ = runtime.Close()
			}()

			result, err := runtime.Compute(cmd.Context(), opts.group, opts.start, opts.end)
			if err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), result, opts.format)
		},
	}
	cmd.Flags().StringVar(&opts.group, "group", "", "group path or ID (GitLab) or organization (GitHub)")
	cmd.Flags().StringVar(&opts.start, "start", "", "first day of the window (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.end, "end", "", "last day of the window (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.format, "format", formatTable, "output format: json or table")
	_ = cmd.MarkFlagRequired("group")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

type matchRosterOptions struct {
	group     string
	names     []string
	threshold float64
	format    string
}

func newMatchRosterCommand(root *rootOptions) *cobra.Command {
	opts := &matchRosterOptions{}
	cmd := &cobra.Command{
		Use:   "match-roster",
		Short: "Match roster names against group members.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFormat(opts.format); err != nil {
				return err
			}
			env, err := setup(root.configPath)
			if err != nil {
				return err
			}
			defer env.close()

			source, err := collect.NewSourceFromConfig(env.cfg)
			if err != nil {
				return fmt.Errorf("build source: %w", err)
			}
			runtime := app.NewRuntime(env.cfg, source, env.logger)
			defer func() {
				_ = runtime.Close()
			}()

			matches, err := runtime.MatchRoster(cmd.Context(), opts.group, opts.names, opts.threshold)
			if err != nil {
				return err
			}
			return writeMatches(cmd.OutOrStdout(), matches, opts.format)
		},
	}
	cmd.Flags().StringVar(&opts.group, "group", "", "group path or ID (GitLab) or organization (GitHub)")
	cmd.Flags().StringSliceVar(&opts.names, "name", nil, "roster name to match (repeatable)")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 0, "similarity threshold 0-100; 0 uses the configured value")
	cmd.Flags().StringVar(&opts.format, "format", formatTable, "output format: json or table")
	_ = cmd.MarkFlagRequired("group")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func validateFormat(format string) error {
	switch format {
	case formatJSON, formatTable:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func writeResult(w io.Writer, result heatmap.Result, format string) error {
	if format == formatJSON {
		return writeJSON(w, result)
	}

	table := tablewriter.NewWriter(w)
	table.Header([]string{"Rank", "Username", "Name", "Score", "Commits", "MRs", "Approvals", "Comments", "Last Active"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	data := make([][]string, 0, len(result.Users))
	for i, user := range result.Users {
		score := "-"
		if user.ContributionScore != nil {
			score = strconv.FormatFloat(*user.ContributionScore, 'f', 1, 64)
		}
		lastActive := "-"
		if user.LastActiveDate != nil {
			lastActive = user.LastActiveDate.UTC().Format("2006-01-02")
		}
		data = append(data, []string{
			strconv.Itoa(i + 1),
			user.Username,
			user.Name,
			score,
			strconv.Itoa(user.Commits),
			strconv.Itoa(user.MergeRequests),
			strconv.Itoa(user.Approvals),
			strconv.Itoa(user.Comments),
			lastActive,
		})
	}
	if err := table.Bulk(data); err != nil {
		return fmt.Errorf("build user table: %w", err)
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render user table: %w", err)
	}

	metrics := result.TeamMetrics
	summary := color.New(color.Reset)
	if result.ProjectsFailed > 0 {
		summary = color.New(color.FgYellow)
	}
	_, err := summary.Fprintf(w,
		"%s %s..%s: %d merge requests, %d commits, %d approvals, %d comments; "+
			"projects %d scanned, %d failed; avg review %.1fh, merge rate %.1f%%, review participation %.1f%%, churn %.1f\n",
		result.GroupID, result.StartDate, result.EndDate,
		result.TotalMergeRequests, result.TotalCommits, result.TotalApprovals, result.TotalComments,
		result.ProjectsScanned, result.ProjectsFailed,
		metrics.AverageReviewTime, metrics.MergeSuccessRate, metrics.ReviewParticipation, metrics.CodeChurnRate,
	)
	return err
}

func writeMatches(w io.Writer, matches []identity.RosterMatch, format string) error {
	if format == formatJSON {
		return writeJSON(w, matches)
	}

	table := tablewriter.NewWriter(w)
	table.Header([]string{"Name", "Matched", "Username", "Display Name"})

	data := make([][]string, 0, len(matches))
	for _, match := range matches {
		data = append(data, []string{
			match.Name,
			strconv.FormatBool(match.Matched),
			orDash(match.Username),
			orDash(match.DisplayName),
		})
	}
	if err := table.Bulk(data); err != nil {
		return fmt.Errorf("build roster table: %w", err)
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render roster table: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, payload any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(payload); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
