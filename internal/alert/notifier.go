// Package alert delivers operational alerts to chat and logs.
package alert

import (
	"context"
	"fmt"
	"sort"
	"strings"

	alertdomain "github.com/smallbiznis/salestax/internal/alert/domain"
	"github.com/smallbiznis/salestax/internal/config"
	"github.com/smallbiznis/salestax/internal/providers/slack"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, alertdomain.Alert) error { return nil }

// LogNotifier writes alerts as structured error logs.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("alert")}
}

func (n *LogNotifier) Notify(_ context.Context, a alertdomain.Alert) error {
	n.log.Error(a.Class,
		zap.String("message", a.Message),
		zap.Any("parameters", a.Parameters),
		zap.Time("occurred_at", a.OccurredAt),
	)
	return nil
}

// SlackNotifier posts alerts to a channel.
type SlackNotifier struct {
	provider slack.Provider
	channel  string
}

func NewSlackNotifier(provider slack.Provider, channel string) *SlackNotifier {
	return &SlackNotifier{provider: provider, channel: channel}
}

func (n *SlackNotifier) Notify(ctx context.Context, a alertdomain.Alert) error {
	return n.provider.PostMessage(ctx, n.channel, formatSlack(a))
}

func formatSlack(a alertdomain.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n%s", a.Class, a.Message)

	keys := make([]string, 0, len(a.Parameters))
	for k := range a.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n• %s: %v", k, a.Parameters[k])
	}
	return b.String()
}

// MultiNotifier fans an alert out to every notifier and reports the first failure.
type MultiNotifier []alertdomain.Notifier

func (m MultiNotifier) Notify(ctx context.Context, a alertdomain.Alert) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type notifierParams struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Slack slack.Provider
}

// NewNotifier always logs alerts and also posts them to Slack when a webhook
// is configured.
func NewNotifier(p notifierParams) alertdomain.Notifier {
	notifiers := MultiNotifier{NewLogNotifier(p.Log)}
	if p.Cfg.Alert.SlackWebhookURL != "" {
		notifiers = append(notifiers, NewSlackNotifier(p.Slack, p.Cfg.Alert.SlackChannel))
	}
	return notifiers
}

var Module = fx.Module("alert",
	fx.Provide(NewNotifier),
)
