// Package notify writes a message to the server console and, unless client
// logging is off, mirrors it to the sketch as a log or warn event.
package notify

import (
	"log/slog"
	"time"

	"github.com/acarl005/stripansi"

	"github.com/example/ssam-replicate/internal/hub"
	"github.com/example/ssam-replicate/internal/model"
)

const Prefix = "[ssam-replicate] "

type Notifier struct {
	Log       *slog.Logger
	ClientLog bool
	// Now stamps client messages; nil means time.Now.
	Now func() time.Time
}

func (n Notifier) logger() *slog.Logger {
	if n.Log != nil {
		return n.Log
	}
	return slog.Default()
}

func (n Notifier) Info(c hub.Client, msg string, args ...any) {
	n.logger().Info(msg, append(args, "client", c.ID())...)
	n.send(c, model.EventLog, msg)
}

func (n Notifier) Warn(c hub.Client, msg string, args ...any) {
	n.logger().Warn(msg, append(args, "client", c.ID())...)
	n.send(c, model.EventWarn, msg)
}

func (n Notifier) send(c hub.Client, event, msg string) {
	if !n.ClientLog {
		return
	}
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	if err := c.Send(event, model.Message{Msg: Clean(now(), msg)}); err != nil {
		n.logger().Debug("client gone, dropping message", "client", c.ID(), "event", event, "error", err)
	}
}

// Clean prefixes msg with the local wall-clock time and the plugin tag,
// and removes ANSI escape sequences.
func Clean(at time.Time, msg string) string {
	return at.Format(time.TimeOnly) + " " + Prefix + stripansi.Strip(msg)
}
