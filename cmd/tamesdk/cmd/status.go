package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check tamed's reachability, auth configuration, and active policy",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	fmt.Printf("tamed: reachable\n")
	fmt.Printf("  auth configured: %v\n", status.AuthConfigured)
	fmt.Printf("  bypass mode:     %v\n", status.BypassMode)
	fmt.Printf("  policy version:  %s\n", status.PolicyVersion)
	fmt.Printf("  policy hash:     %s\n", status.PolicyFingerprint)
	fmt.Printf("  rules:           %d\n", status.RulesCount)
	return nil
}
