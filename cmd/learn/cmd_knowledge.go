package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/DavinciDreams/Megawatts-sub008/internal/knowledge"
	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

// =============================================================================
// KNOWLEDGE BASE COMMANDS
// =============================================================================

var (
	kReq     knowledge.CreateRequest
	kType    string
	kPrivacy string
	kExpires time.Duration
	kActor   string

	kAccess types.AccessContext
	kLimit  int

	pruneOlderThan  time.Duration
	pruneBelowConf  float64
	pruneBelowUsage int
	pruneExpired    bool
	pruneTypes      []string
)

// knowledgeCmd groups knowledge base commands
var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Curate the knowledge base",
	Long: `Add, read, search and forget knowledge entries.

Subcommands:
  add     - Store and validate an entry
  get     - Read one entry as a given user/guild
  search  - Keyword search with privacy filtering
  forget  - Delete one entry
  prune   - Selective forgetting by age, confidence, usage or expiry
  stats   - Counts by type, privacy and status`,
}

var knowledgeAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Store and validate an entry",
	Long: `Stores an entry and validates it right away; it ends up validated or
rejected.

Example:
  learn knowledge add --title "Prefer threads" --content "Long answers read better in a thread" \
    --type best_practice --privacy guild_only --guild G1`,
	RunE: runKnowledgeAdd,
}

var knowledgeGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Read one entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runKnowledgeGet,
}

var knowledgeSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search entries visible to the caller",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runKnowledgeSearch,
}

var knowledgeForgetCmd = &cobra.Command{
	Use:   "forget <id>",
	Short: "Delete one entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runKnowledgeForget,
}

var knowledgePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Forget entries matching any criterion",
	Long: `Deletes every entry matching at least one criterion. --type narrows the
candidates first.

Example:
  learn knowledge prune --below-confidence 0.3 --expired`,
	RunE: runKnowledgePrune,
}

var knowledgeStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base statistics",
	RunE:  runKnowledgeStats,
}

func runKnowledgeAdd(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	req := kReq
	req.Type = types.KnowledgeType(kType)
	req.PrivacyLevel = types.PrivacyLevel(kPrivacy)
	if kExpires > 0 {
		at := time.Now().Add(kExpires)
		req.ExpiresAt = &at
	}

	engine, repo, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	k, verdict, err := engine.LearnKnowledge(ctx, req, kActor)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]any{"knowledge": k, "validation": verdict})
	}
	fmt.Fprintf(out, "Stored %s (%s, confidence %.2f)\n", k.ID, k.ValidationStatus, verdict.Confidence)
	if k.RejectionReason != "" {
		fmt.Fprintf(out, "  reason: %s\n", k.RejectionReason)
	}
	return nil
}

func runKnowledgeGet(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	engine, repo, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	k, err := engine.Knowledge().Retrieve(ctx, args[0], kAccess)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, k)
	}
	printKnowledge(out, k)
	fmt.Fprintf(out, "\n%s\n", k.Content)
	return nil
}

func runKnowledgeSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	engine, repo, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	results, err := engine.Knowledge().Search(ctx, strings.Join(args, " "), kAccess, kLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "No knowledge entries found.")
		return nil
	}
	for _, k := range results {
		printKnowledge(out, k)
	}
	return nil
}

func runKnowledgeForget(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	engine, repo, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := engine.Knowledge().Forget(ctx, args[0], kActor); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s\n", args[0])
	return nil
}

func runKnowledgePrune(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	criteria := types.ForgettingCriteria{
		OlderThan: pruneOlderThan,
		Expired:   pruneExpired,
	}
	if cmd.Flags().Changed("below-confidence") {
		criteria.BelowConfidence = &pruneBelowConf
	}
	if cmd.Flags().Changed("below-usage") {
		criteria.BelowUsageCount = &pruneBelowUsage
	}
	for _, t := range pruneTypes {
		criteria.Types = append(criteria.Types, types.KnowledgeType(t))
	}

	engine, repo, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	n, err := engine.Knowledge().SelectiveForgetting(ctx, criteria)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Forgot %d entries\n", n)
	return nil
}

func runKnowledgeStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	engine, repo, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	stats, err := engine.Knowledge().Stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), stats)
}

func printKnowledge(w io.Writer, k *types.Knowledge) {
	fmt.Fprintf(w, "%s  %-16s %-10s %-9s conf=%.2f used=%d  %s\n",
		k.ID, k.Type, k.PrivacyLevel, k.ValidationStatus, k.Confidence, k.UsageCount, k.Title)
}

func init() {
	f := knowledgeAddCmd.Flags()
	f.StringVar(&kReq.Title, "title", "", "Entry title")
	f.StringVar(&kReq.Content, "content", "", "Entry content")
	f.StringVar(&kReq.Source, "source", "cli", "Where the entry came from")
	f.Float64Var(&kReq.Confidence, "confidence", 0.8, "Confidence in [0,1]")
	f.StringVar(&kType, "type", string(types.KnowledgeBestPractice), "pattern, best_practice, user_preference, optimization, safety_rule")
	f.StringVar(&kPrivacy, "privacy", string(types.PrivacyPublic), "public, guild_only, user_only, private")
	f.StringVar(&kReq.UserID, "user", "", "Owning user id")
	f.StringVar(&kReq.GuildID, "guild", "", "Owning guild id")
	f.StringSliceVar(&kReq.Tags, "tags", nil, "Comma-separated tags")
	f.DurationVar(&kExpires, "expires-in", 0, "Expire the entry after this long")
	knowledgeAddCmd.MarkFlagRequired("title")
	knowledgeAddCmd.MarkFlagRequired("content")

	for _, c := range []*cobra.Command{knowledgeGetCmd, knowledgeSearchCmd} {
		c.Flags().StringVar(&kAccess.UserID, "as-user", "", "Caller user id")
		c.Flags().StringVar(&kAccess.GuildID, "as-guild", "", "Caller guild id")
	}
	knowledgeSearchCmd.Flags().IntVar(&kLimit, "limit", 10, "Maximum results")

	for _, c := range []*cobra.Command{knowledgeAddCmd, knowledgeForgetCmd} {
		c.Flags().StringVar(&kActor, "actor", "operator", "Name recorded in the audit log")
	}

	p := knowledgePruneCmd.Flags()
	p.DurationVar(&pruneOlderThan, "older-than", 0, "Forget entries created longer ago than this")
	p.Float64Var(&pruneBelowConf, "below-confidence", 0, "Forget entries below this confidence")
	p.IntVar(&pruneBelowUsage, "below-usage", 0, "Forget entries used fewer times than this")
	p.BoolVar(&pruneExpired, "expired", false, "Forget expired entries")
	p.StringSliceVar(&pruneTypes, "type", nil, "Only consider these knowledge types")

	knowledgeCmd.AddCommand(knowledgeAddCmd)
	knowledgeCmd.AddCommand(knowledgeGetCmd)
	knowledgeCmd.AddCommand(knowledgeSearchCmd)
	knowledgeCmd.AddCommand(knowledgeForgetCmd)
	knowledgeCmd.AddCommand(knowledgePruneCmd)
	knowledgeCmd.AddCommand(knowledgeStatsCmd)
}
