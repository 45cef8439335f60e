package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	tame "github.com/donbool/tame-sdk-go"
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Read tool calls from stdin, one per line, and enforce each",
	Long: `interactive reads newline-delimited input of the form:

  <tool_name> <json_args>

and issues one enforce call per line against the active session, printing
the decision as it comes back. An empty <json_args> defaults to "{}".
Type "exit" or Ctrl-D to stop.`,
	RunE: runInteractive,
}

func init() {
	rootCmd.AddCommand(interactiveCmd)
}

func runInteractive(cmd *cobra.Command, args []string) error {
	client := newClient()
	session := sessionID()

	fmt.Println("tamesdk interactive — enter \"<tool_name> [json_args]\", or \"exit\"")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		toolName, rawArgs, _ := strings.Cut(line, " ")
		toolArgs, err := decodeJSONObject(strings.TrimSpace(rawArgs))
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid json args: %v\n", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		opts := []func(*tame.EnforceRequest){}
		if session != "" {
			opts = append(opts, tame.WithSessionID(session))
		}
		resp, err := client.Enforce(ctx, toolName, toolArgs, opts...)
		cancel()
		if err != nil && resp == nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		if resp != nil {
			session = resp.SessionID
			printDecision(resp)
		}
	}
	return nil
}
