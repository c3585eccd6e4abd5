package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DavinciDreams/Megawatts-sub008/internal/patterns"
)

var (
	inputPath   string
	metricsPath string
)

// analyzeCmd runs pattern recognition only
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Detect patterns in a batch of interactions",
	Long: `Reads newline-delimited JSON interactions and reports the patterns that
clear the confidence threshold, plus ranked insights. Detected patterns are
persisted to the repository.

Example:
  learn analyze --input interactions.jsonl`,
	RunE: runAnalyze,
}

// adaptCmd runs one full learning cycle
var adaptCmd = &cobra.Command{
	Use:   "adapt",
	Short: "Run a full learning cycle: analyze, validate, adapt",
	Long: `Runs interactions through the whole pipeline. Patterns failing validation
are excluded; behaviors failing validation are deactivated.

The optional metrics file is a JSON array of integration metric snapshots
whose values are averaged into the adaptation context.

Example:
  learn adapt --input interactions.jsonl --metrics monitors.json`,
	RunE: runAdapt,
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	batch, err := readInteractions(inputPath)
	if err != nil {
		return err
	}
	engine, repo, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	res, err := engine.Recognizer().Analyze(ctx, batch)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, res)
	}

	fmt.Fprintf(out, "Analyzed %d interactions: %d patterns\n", len(batch), len(res.Patterns))
	for _, p := range res.Patterns {
		fmt.Fprintf(out, "  %-28s %-18s confidence=%.2f (%s) frequency=%d\n",
			p.ID, p.Type, p.Confidence, patterns.ConfidenceLevel(p.Confidence), p.Frequency)
	}
	if len(res.Insights) > 0 {
		fmt.Fprintln(out, "Insights:")
		for _, in := range res.Insights {
			fmt.Fprintf(out, "  [%.0f] %s\n", in.Priority, in.Message)
		}
	}
	return nil
}

func runAdapt(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	batch, err := readInteractions(inputPath)
	if err != nil {
		return err
	}
	signals, err := readSignals(metricsPath)
	if err != nil {
		return err
	}
	engine, repo, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	res, err := engine.RunCycle(ctx, batch, signals)
	if err != nil {
		return err
	}
	if logger != nil {
		logger.Info("Cycle complete",
			zap.Int("interactions", len(batch)),
			zap.Strings("accepted", res.AcceptedPatterns),
			zap.Strings("deactivated", res.Deactivated))
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, res)
	}
	fmt.Fprintf(out, "Patterns: %d accepted, %d rejected\n", len(res.AcceptedPatterns), len(res.RejectedPatterns))
	for _, id := range res.RejectedPatterns {
		fmt.Fprintf(out, "  rejected %s\n", id)
	}
	fmt.Fprintf(out, "Behaviors: %d adapted, %d deactivated (approval required: %v)\n",
		len(res.Adaptation.BehaviorIDs), len(res.Deactivated), res.Adaptation.RequiresApproval)
	for _, a := range res.Adaptation.Adaptations {
		gate := ""
		if a.RequiresApproval {
			gate = " [needs approval]"
		}
		fmt.Fprintf(out, "  %s <- %s expected=%.2f%s\n", a.BehaviorID, a.PatternID, a.ExpectedEffectiveness, gate)
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{analyzeCmd, adaptCmd} {
		c.Flags().StringVarP(&inputPath, "input", "i", "", "Interactions JSONL file (- for stdin)")
		c.MarkFlagRequired("input")
	}
	adaptCmd.Flags().StringVarP(&metricsPath, "metrics", "m", "", "Integration metrics JSON file")
}
