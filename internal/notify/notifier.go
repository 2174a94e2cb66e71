// Package notify delivers high-score alerts over the configured
// channels. Channel failures are logged and counted; they never stop
// the run or the other channels.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scoutlab/pubscout/internal/model"
)

// Channel delivers one alert over a single medium.
type Channel interface {
	Name() string
	Send(ctx context.Context, rec model.PublicationRecord, score model.ScoreResult) error
}

// ChannelError wraps a delivery failure with the channel name.
type ChannelError struct {
	Channel string
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("notify: channel %s: %v", e.Channel, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// Notifier fans one alert out to all channels concurrently.
type Notifier struct {
	channels []Channel
}

func New(channels ...Channel) *Notifier {
	return &Notifier{channels: channels}
}

// Enabled reports whether any channel is configured.
func (n *Notifier) Enabled() bool {
	return len(n.channels) > 0
}

// Notify sends the alert over every channel and returns how many
// deliveries succeeded and how many failed.
func (n *Notifier) Notify(ctx context.Context, rec model.PublicationRecord, score model.ScoreResult) (sent, failed int) {
	if len(n.channels) == 0 {
		return 0, 0
	}

	results := make([]error, len(n.channels))
	g, gctx := errgroup.WithContext(ctx)
	for i, ch := range n.channels {
		i, ch := i, ch
		g.Go(func() error {
			results[i] = ch.Send(gctx, rec, score)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	for i, ch := range n.channels {
		if err := results[i]; err != nil {
			failed++
			zap.L().Error("notification failed",
				zap.String("channel", ch.Name()),
				zap.String("source_id", rec.SourceID),
				zap.Error(&ChannelError{Channel: ch.Name(), Err: err}),
			)
			continue
		}
		sent++
		zap.L().Info("notification sent",
			zap.String("channel", ch.Name()),
			zap.String("source_id", rec.SourceID),
			zap.Float64("score", score.Score),
		)
	}
	return sent, failed
}
