package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	tame "github.com/donbool/tame-sdk-go"
)

var (
	enforceArgsRaw     string
	enforceMetadataRaw string
)

var enforceCmd = &cobra.Command{
	Use:   "enforce <tool>",
	Short: "Submit a tool call for policy enforcement and print the decision",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnforce,
}

func init() {
	enforceCmd.Flags().StringVar(&enforceArgsRaw, "args", "{}", "tool arguments as a JSON object")
	enforceCmd.Flags().StringVar(&enforceMetadataRaw, "metadata", "", "caller-supplied metadata as a JSON object")
	rootCmd.AddCommand(enforceCmd)
}

func runEnforce(cmd *cobra.Command, args []string) error {
	toolArgs, err := decodeJSONObject(enforceArgsRaw)
	if err != nil {
		return fmt.Errorf("--args: %w", err)
	}
	metadata, err := decodeJSONObject(enforceMetadataRaw)
	if err != nil {
		return fmt.Errorf("--metadata: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := newClient()
	opts := []func(*tame.EnforceRequest){}
	if sid := sessionID(); sid != "" {
		opts = append(opts, tame.WithSessionID(sid))
	}
	if metadata != nil {
		opts = append(opts, tame.WithMetadata(metadata))
	}

	resp, err := client.Enforce(ctx, args[0], toolArgs, opts...)
	var denied *tame.PolicyDeniedError
	var approval *tame.ApprovalRequiredError
	switch {
	case errors.As(err, &denied):
		printDecision(resp)
		os.Exit(ExitDeny)
	case errors.As(err, &approval):
		printDecision(resp)
		os.Exit(ExitApprove)
	case err != nil:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitError)
	}

	printDecision(resp)
	os.Exit(exitCodeForDecision(resp.Decision))
	return nil
}

func printDecision(resp *tame.EnforceResponse) {
	fmt.Printf("session:  %s\n", resp.SessionID)
	fmt.Printf("log_id:   %s\n", resp.LogID)
	fmt.Printf("decision: %s\n", resp.Decision)
	if resp.RuleName != "" {
		fmt.Printf("rule:     %s\n", resp.RuleName)
	}
	fmt.Printf("reason:   %s\n", resp.Reason)
}
