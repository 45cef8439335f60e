// Package cmd provides the tamesdk CLI: a thin wrapper over the Go client
// SDK for scripting and interactive use against a running tamed server.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	tame "github.com/donbool/tame-sdk-go"
)

// Exit codes, per the enforce/test decision a caller receives.
const (
	ExitAllow   = 0
	ExitError   = 1
	ExitDeny    = 2
	ExitApprove = 3
)

var (
	flagAPIURL  string
	flagAPIKey  string
	flagSession string
	flagAgent   string
	flagUser    string
	flagBypass  bool
)

var rootCmd = &cobra.Command{
	Use:   "tamesdk",
	Short: "tamesdk — command-line client for tamed",
	Long: `tamesdk talks to a running tamed server over its HTTP/JSON API.

Configuration is read from flags, then TAME_API_URL / TAME_API_KEY /
TAME_SESSION_ID / TAME_AGENT_ID / TAME_USER_ID / TAME_BYPASS_MODE
environment variables, the same way tamed itself binds TAME_* config keys.`,
}

// Execute runs the root command, exiting the process on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitError)
	}
}

func init() {
	cobra.OnInitialize(initEnv)

	rootCmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", "", "tamed server URL (default: $TAME_API_URL or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&flagAPIKey, "api-key", "", "bearer token (default: $TAME_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&flagSession, "session", "", "session id to attach to (default: $TAME_SESSION_ID, or server-generated)")
	rootCmd.PersistentFlags().StringVar(&flagAgent, "agent", "", "agent id (default: $TAME_AGENT_ID)")
	rootCmd.PersistentFlags().StringVar(&flagUser, "user", "", "user id (default: $TAME_USER_ID)")
	rootCmd.PersistentFlags().BoolVar(&flagBypass, "bypass", false, "record a bypass preference on the client; it is not sent to the server (default: $TAME_BYPASS_MODE)")
}

func initEnv() {
	viper.SetEnvPrefix("TAME")
	viper.AutomaticEnv()
}

// newClient builds a tame.Client from flags, falling back to the
// TAME_* environment variables the SDK itself already reads.
func newClient() *tame.Client {
	opts := []tame.Option{tame.WithRaiseOnDeny(true)}
	if flagAPIURL != "" {
		opts = append(opts, tame.WithAPIURL(flagAPIURL))
	}
	if flagAPIKey != "" {
		opts = append(opts, tame.WithAPIKey(flagAPIKey))
	}
	if flagAgent != "" {
		opts = append(opts, tame.WithAgentID(flagAgent))
	}
	if flagUser != "" {
		opts = append(opts, tame.WithUserID(flagUser))
	}
	if flagBypass {
		opts = append(opts, tame.WithBypass(true))
	}
	return tame.NewClient(opts...)
}

// sessionID resolves the session id to use: the --session flag, else
// TAME_SESSION_ID, else empty (the server generates one).
func sessionID() string {
	if flagSession != "" {
		return flagSession
	}
	return os.Getenv("TAME_SESSION_ID")
}
