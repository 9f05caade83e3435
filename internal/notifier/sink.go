package notifier

import (
	"context"
	"os/exec"

	logx "sendgate/pkg/logx"
)

// Sink is the outer edge of the notifier: something that can put a short
// message in front of the operator. Implementations must be safe for
// concurrent use and should honor ctx cancellation.
type Sink interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

// LogSink writes pings to the structured log. Always available; useful as
// the fallback when no desktop/Telegram sink is configured.
type LogSink struct {
	Log logx.Logger
}

func (s LogSink) Name() string { return "log" }

func (s LogSink) Send(_ context.Context, m Message) error {
	s.Log.Info(m.Title,
		logx.String("account", m.Account),
		logx.String("kind", m.Kind),
		logx.String("detail", m.Body))
	return nil
}

// CommandSink shells out to a desktop notifier program (notify-send,
// osascript, a custom script). Title and body are appended to the
// configured argument list.
type CommandSink struct {
	Program string
	Args    []string
}

func (s CommandSink) Name() string { return "command" }

func (s CommandSink) Send(ctx context.Context, m Message) error {
	args := append(append([]string(nil), s.Args...), m.Title, m.Body)
	return exec.CommandContext(ctx, s.Program, args...).Run()
}
