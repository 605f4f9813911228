package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/vote-match/internal/config"
	"github.com/sells-group/vote-match/internal/metrics"
)

var (
	cfg        *config.Config
	appMetrics *metrics.Metrics
)

var rootCmd = &cobra.Command{
	Use:   "vote-match",
	Short: "Resolve voter locations and district membership",
	Long:  "Geocodes voter records across several providers, reconciles their answers, and checks each location against loaded district boundaries.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		appMetrics = metrics.New()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		pushMetrics(cmd.Context(), cmd.Name())
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

// pushMetrics sends the command's metrics to the Pushgateway, one job per
// command, when a gateway is configured. Failures are logged only.
func pushMetrics(ctx context.Context, job string) {
	if cfg == nil || cfg.Metrics.PushgatewayURL == "" || appMetrics == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	mc := cfg.Metrics
	if mc.Job == "" {
		mc.Job = "vote_match"
	}
	mc.Job += "_" + job
	if err := appMetrics.Push(ctx, mc); err != nil {
		zap.L().Warn("metrics push failed", zap.String("url", mc.PushgatewayURL), zap.Error(err))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
