package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xyrax/instra/internal/api"
	"github.com/xyrax/instra/internal/config"
	"github.com/xyrax/instra/internal/features"
	"github.com/xyrax/instra/internal/storage"
)

// metricFlags are the analyze flags, one per raw counter.
var metricFlags = features.Names()[:features.SaveToLikeRatio]

func flagName(metric string) string {
	return strings.ReplaceAll(metric, "_", "-")
}

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Predict reach for one post",
	Long: `Predict impressions and viral score for one post. Supply at least three metrics.

Examples:
  instra analyze --likes 151 --saves 109 --comments 6 --shares 6 --follows 8 --profile-visits 23
  instra analyze --session launch --likes 400 --saves 80 --hashtags 18 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		counts := make(map[string]int)
		for _, m := range metricFlags {
			if cmd.Flags().Changed(flagName(m)) {
				v, _ := cmd.Flags().GetInt(flagName(m))
				counts[m] = v
			}
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runAnalyze(cmd.Context(), client, cmd.OutOrStdout(), counts, asJSON)
	},
}

func runAnalyze(ctx context.Context, c *apiClient, w io.Writer, counts map[string]int, asJSON bool) error {
	if len(counts) < features.MinFields {
		return fmt.Errorf("at least %d metrics are required, got %d", features.MinFields, len(counts))
	}
	body := map[string]any{"session_key": c.session}
	for k, v := range counts {
		body[k] = v
	}

	resp, err := c.post(ctx, "/api/analyze", body)
	if err != nil {
		return err
	}
	var res api.Analysis
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	if asJSON {
		return writeIndented(w, res)
	}
	printAnalysis(w, res)
	return nil
}

func init() {
	for _, m := range metricFlags {
		analyzeCmd.Flags().Int(flagName(m), 0, strings.ReplaceAll(m, "_", " ")+" count")
	}
	analyzeCmd.Flags().Bool("json", false, "print the raw JSON response")
}

// --- bulk ---

var bulkCmd = &cobra.Command{
	Use:   "bulk <file.csv>",
	Short: "Analyze every row of a CSV export",
	Long: `Analyze every row of a CSV export. The header names the metric columns
(likes, saves, comments, shares, follows, profile_visits, caption_length,
hashtags, reposts); other columns are ignored. Use "-" to read stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening csv: %w", err)
			}
			defer f.Close()
			r = f
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runBulk(cmd.Context(), client, cmd.OutOrStdout(), r)
	},
}

func runBulk(ctx context.Context, c *apiClient, w io.Writer, r io.Reader) error {
	resp, err := c.postCSV(ctx, "/api/bulk?session_key="+url.QueryEscape(c.session), r)
	if err != nil {
		return err
	}
	var res api.BulkResult
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	printBulk(w, res)
	return nil
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Ask the growth strategist",
	Long: `Ask the growth strategist about the session's posts. With a message argument
one question is answered; without one an interactive prompt starts (exit with
Ctrl-D or "exit").`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if len(args) > 0 {
			return ask(cmd.Context(), client, cmd.OutOrStdout(), strings.Join(args, " "))
		}
		return runChat(cmd.Context(), client, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func ask(ctx context.Context, c *apiClient, w io.Writer, message string) error {
	resp, err := c.post(ctx, "/api/agent", map[string]string{
		"session_key": c.session,
		"message":     message,
	})
	if err != nil {
		return err
	}
	var reply struct {
		Reply  string `json:"reply"`
		Source string `json:"source"`
	}
	if err := decodeJSON(resp, &reply); err != nil {
		return err
	}
	fmt.Fprintln(w, reply.Reply)
	if reply.Source == "fallback" {
		fmt.Fprintln(w, colorize(colorYellow, "(rule-based answer)"))
	}
	return nil
}

func runChat(ctx context.Context, c *apiClient, in io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(w, colorize(colorCyan, "you> "))
		if !sc.Scan() {
			fmt.Fprintln(w)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := ask(ctx, c, w, line); err != nil {
			return err
		}
	}
}

// --- history / clear ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List the posts analyzed in this session",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runHistory(cmd.Context(), client, cmd.OutOrStdout(), limit, asJSON)
	},
}

func runHistory(ctx context.Context, c *apiClient, w io.Writer, limit int, asJSON bool) error {
	q := url.Values{"session_key": {c.session}}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	resp, err := c.get(ctx, "/api/history?"+q.Encode())
	if err != nil {
		return err
	}
	var res struct {
		Posts []storage.Post `json:"posts"`
	}
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	if asJSON {
		return writeIndented(w, res.Posts)
	}
	printPosts(w, res.Posts)
	return nil
}

func init() {
	historyCmd.Flags().Int("limit", 0, "show only the most recent N posts")
	historyCmd.Flags().Bool("json", false, "print the raw JSON posts")
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete this session's posts and conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This deletes every post and chat turn in session %q.", sessionFlag)
			printStep("Re-run with --confirm to proceed")
			return nil
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runClear(cmd.Context(), client)
	},
}

func runClear(ctx context.Context, c *apiClient) error {
	resp, err := c.post(ctx, "/api/clear?session_key="+url.QueryEscape(c.session), nil)
	if err != nil {
		return err
	}
	var res struct {
		Deleted int `json:"deleted"`
	}
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	printSuccess("Cleared %d posts from session %s", res.Deleted, c.session)
	return nil
}

func init() {
	clearCmd.Flags().Bool("confirm", false, "confirm deletion")
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:       "set <key> <value>",
	Short:     "Set a configuration value",
	Args:      cobra.ExactArgs(2),
	ValidArgs: config.ValidKeys(),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
