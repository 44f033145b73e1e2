// Command emotionctl queries a running emotion monitor.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Flags are bound through a private
// viper instance so EMOTIONCTL_* env vars and an optional config file
// supply the same settings.
func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "emotionctl",
		Short:         "Query and follow a running emotion monitor",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cfgFile == "" {
				return nil
			}
			v.SetConfigFile(cfgFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config %s: %w", cfgFile, err)
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	pf.String("api", "http://localhost:8000", "monitor base URL")
	pf.Duration("timeout", 10*time.Second, "request timeout")
	pf.Bool("json", false, "print raw JSON")
	_ = v.BindPFlags(pf)

	v.SetEnvPrefix("EMOTIONCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	clientFor := func() *apiClient {
		return newAPIClient(v.GetString("api"), v.GetDuration("timeout"))
	}
	asJSON := func() bool { return v.GetBool("json") }

	root.AddCommand(
		newRecentCmd(clientFor, asJSON),
		newStatsCmd(clientFor, asJSON),
		newHourlyCmd(clientFor, asJSON),
		newByDateCmd(clientFor, asJSON),
		newWeeklyCmd(clientFor, asJSON),
		newHealthCmd(clientFor),
		newWatchCmd(func() string { return v.GetString("api") }),
	)
	return root
}
