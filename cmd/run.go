package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scoutlab/pubscout/internal/analyzer"
	"github.com/scoutlab/pubscout/internal/notify"
	"github.com/scoutlab/pubscout/internal/pipeline"
	"github.com/scoutlab/pubscout/internal/portal"
	"github.com/scoutlab/pubscout/internal/sanitize"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one harvest run",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		scrubber, err := sanitize.New(nil)
		if err != nil {
			return err
		}

		scorer, err := analyzer.New(cfg.OpenAI, scrubber)
		if err != nil {
			return err
		}

		p := pipeline.New(cfg, st, portal.New(cfg.Portal), scorer, buildNotifier())

		report, runErr := p.Run(ctx)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return eris.Wrap(err, "encode report")
		}

		if runErr != nil {
			return eris.Wrap(runErr, "pipeline run")
		}
		return nil
	},
}

// buildNotifier assembles the enabled channels. With none enabled
// above-threshold records are still persisted and counted.
func buildNotifier() *notify.Notifier {
	var channels []notify.Channel
	if cfg.Notify.Slack.Enabled {
		if cfg.Notify.Slack.WebhookURL == "" {
			zap.L().Warn("slack enabled without webhook_url, skipping channel")
		} else {
			channels = append(channels, notify.NewSlack(cfg.Notify.Slack.WebhookURL))
		}
	}
	if cfg.Notify.Email.Enabled {
		channels = append(channels, notify.NewEmail(cfg.Notify.Email))
	}
	return notify.New(channels...)
}

func init() {
	rootCmd.AddCommand(runCmd)
}
