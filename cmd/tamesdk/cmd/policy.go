package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show the currently active policy version and its rules",
	RunE:  runPolicy,
}

func init() {
	rootCmd.AddCommand(policyCmd)
}

func runPolicy(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := newClient()
	status, err := client.Status(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitError)
	}
	if !status.Reachable {
		fmt.Println("tamed: unreachable")
		os.Exit(ExitError)
	}

	fmt.Printf("version: %s\n", status.PolicyVersion)
	fmt.Printf("hash:    %s\n", status.PolicyFingerprint)
	fmt.Printf("rules (%d):\n", status.RulesCount)
	for _, rule := range status.Rules {
		fmt.Printf("  - %-20s %-8s %s\n", rule.Name, rule.Action, rule.Reason)
	}
	return nil
}
