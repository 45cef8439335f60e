package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	tame "github.com/donbool/tame-sdk-go"
)

var testArgsRaw string

var testCmd = &cobra.Command{
	Use:   "test <tool>",
	Short: "Dry-run a tool call against the active policy without recording anything",
	Args:  cobra.ExactArgs(1),
	RunE:  runTest,
}

func init() {
	testCmd.Flags().StringVar(&testArgsRaw, "args", "{}", "tool arguments as a JSON object")
	rootCmd.AddCommand(testCmd)
}

func runTest(cmd *cobra.Command, args []string) error {
	toolArgs, err := decodeJSONObject(testArgsRaw)
	if err != nil {
		return fmt.Errorf("--args: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := newClient()
	result, err := client.Test(ctx, args[0], toolArgs, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitError)
	}

	fmt.Printf("decision: %s\n", result.Decision)
	if result.RuleName != "" {
		fmt.Printf("rule:     %s\n", result.RuleName)
	}
	fmt.Printf("reason:   %s\n", result.Reason)

	os.Exit(exitCodeForDecision(result.Decision))
	return nil
}

func decodeJSONObject(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func exitCodeForDecision(d tame.Decision) int {
	switch d {
	case tame.DecisionDeny:
		return ExitDeny
	case tame.DecisionApprove:
		return ExitApprove
	default:
		return ExitAllow
	}
}
