package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

var (
	behaviorAll      bool
	behaviorPending  bool
	behaviorContext  string
	behaviorApprover string
	outcomeScore     float64
)

// behaviorCmd groups behavior review commands
var behaviorCmd = &cobra.Command{
	Use:   "behavior",
	Short: "Review, apply and approve adapted behaviors",
}

var behaviorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored behaviors",
	RunE:  runBehaviorList,
}

var behaviorApplyCmd = &cobra.Command{
	Use:   "apply <behavior-id>",
	Short: "Resolve a behavior's config and count one use",
	Long: `Prints the behavior's current config. Fails when the behavior is inactive
or still awaits approval.

Example:
  learn behavior apply behavior_response_length --context '{"average_engagement":0.8}'`,
	Args: cobra.ExactArgs(1),
	RunE: runBehaviorApply,
}

var behaviorApproveCmd = &cobra.Command{
	Use:   "approve <behavior-id>",
	Short: "Lift the approval gate of a behavior",
	Args:  cobra.ExactArgs(1),
	RunE:  runBehaviorApprove,
}

var behaviorDeactivateCmd = &cobra.Command{
	Use:   "deactivate <behavior-id> [reason]",
	Short: "Mark a behavior inactive",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runBehaviorDeactivate,
}

var behaviorOutcomeCmd = &cobra.Command{
	Use:   "outcome <behavior-id> <success|failure>",
	Short: "Record the outcome of one behavior use",
	Args:  cobra.ExactArgs(2),
	RunE:  runBehaviorOutcome,
}

func runBehaviorList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	_, repo, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	filter := types.BehaviorFilter{ActiveOnly: !behaviorAll, PendingApproval: behaviorPending}
	behaviors, err := repo.Behaviors().FindByOptions(ctx, filter)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, behaviors)
	}
	if len(behaviors) == 0 {
		fmt.Fprintln(out, "No behaviors found.")
		return nil
	}
	for _, b := range behaviors {
		state := "active"
		switch {
		case !b.IsActive:
			state = "inactive"
		case b.Gated():
			state = "pending approval"
		}
		fmt.Fprintf(out, "%-34s %-10s effectiveness=%.2f uses=%d (%s)\n",
			b.ID, b.Type, b.EffectivenessScore, b.UsageCount, state)
	}
	return nil
}

func runBehaviorApply(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	var actx types.AdaptationContext
	if behaviorContext != "" {
		if err := json.Unmarshal([]byte(behaviorContext), &actx); err != nil {
			return fmt.Errorf("invalid --context: %w", err)
		}
	}

	engine, repo, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	cfgOut, err := engine.Adapter().ApplyBehavior(ctx, args[0], actx)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), cfgOut)
}

func runBehaviorApprove(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	engine, repo, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	b, err := engine.Adapter().ApproveBehavior(ctx, args[0], behaviorApprover)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Approved %s\n", b.ID)
	return nil
}

func runBehaviorDeactivate(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	reason := "deactivated by operator"
	if len(args) > 1 {
		reason = args[1]
	}
	engine, repo, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	b, err := engine.Adapter().DeactivateBehavior(ctx, args[0], reason)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deactivated %s\n", b.ID)
	return nil
}

func runBehaviorOutcome(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	var success bool
	switch args[1] {
	case "success", "ok":
		success = true
	case "failure", "fail":
	default:
		parsed, err := strconv.ParseBool(args[1])
		if err != nil {
			return fmt.Errorf("outcome must be success or failure, got %q", args[1])
		}
		success = parsed
	}

	var score *float64
	if cmd.Flags().Changed("effectiveness") {
		score = &outcomeScore
	}

	engine, repo, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	b, err := engine.Adapter().RecordOutcome(ctx, args[0], success, score)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s effectiveness=%.2f (%d/%d successful)\n",
		b.ID, b.EffectivenessScore, b.SuccessCount, b.UsageCount)
	return nil
}

func init() {
	behaviorListCmd.Flags().BoolVar(&behaviorAll, "all", false, "Include inactive behaviors")
	behaviorListCmd.Flags().BoolVar(&behaviorPending, "pending", false, "Only behaviors awaiting approval")
	behaviorApplyCmd.Flags().StringVar(&behaviorContext, "context", "", "Adaptation context as a JSON object")
	behaviorApproveCmd.Flags().StringVar(&behaviorApprover, "approver", "operator", "Name recorded in the audit log")
	behaviorOutcomeCmd.Flags().Float64Var(&outcomeScore, "effectiveness", 0, "Observed effectiveness in [0,1]")

	behaviorCmd.AddCommand(behaviorListCmd)
	behaviorCmd.AddCommand(behaviorApplyCmd)
	behaviorCmd.AddCommand(behaviorApproveCmd)
	behaviorCmd.AddCommand(behaviorDeactivateCmd)
	behaviorCmd.AddCommand(behaviorOutcomeCmd)
}
