// Package notify delivers watcher notifications for simulation
// lifecycle events. Delivery failures are logged and swallowed; a
// broken mail relay never blocks a publish.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/google/uuid"

	"github.com/simdb-io/simdb/internal/store"
	"github.com/simdb-io/simdb/pkg/core"
)

// Event describes one notifiable change to a simulation.
type Event struct {
	Simulation uuid.UUID
	Class      core.NotificationClass
	Subject    string
	Body       string
}

// Notifier delivers one event to one watcher.
type Notifier interface {
	Notify(ctx context.Context, watcher core.Watcher, event Event) error
}

// SMTPConfig holds the mail relay settings from the email config
// section.
type SMTPConfig struct {
	Server   string
	Port     int
	User     string
	Password string
	From     string
}

// SMTPNotifier delivers events as plain-text mail.
type SMTPNotifier struct {
	cfg SMTPConfig
	// send is swapped out in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPNotifier builds a mail notifier.
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, send: smtp.SendMail}
}

func (n *SMTPNotifier) Notify(_ context.Context, watcher core.Watcher, event Event) error {
	var auth smtp.Auth
	if n.cfg.User != "" {
		auth = smtp.PlainAuth("", n.cfg.User, n.cfg.Password, n.cfg.Server)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", watcher.Email)
	fmt.Fprintf(&msg, "Subject: %s\r\n", event.Subject)
	msg.WriteString("\r\n")
	msg.WriteString(event.Body)
	fmt.Fprintf(&msg, "\r\n\r\nSimulation: %s\r\nEvent: %s\r\n", event.Simulation, event.Class.Name())

	addr := fmt.Sprintf("%s:%d", n.cfg.Server, n.cfg.Port)
	if err := n.send(addr, auth, n.cfg.From, []string{watcher.Email}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send mail to %s: %w", watcher.Email, err)
	}
	return nil
}

// Dispatcher fans one event out to every watcher whose notification
// class covers it.
type Dispatcher struct {
	store    *store.Store
	notifier Notifier
	logger   *slog.Logger
}

// NewDispatcher builds a dispatcher. A nil notifier disables delivery
// entirely, which is the default for installations without an email
// section.
func NewDispatcher(st *store.Store, notifier Notifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{store: st, notifier: notifier, logger: logger}
}

// Dispatch notifies the covered watchers of a simulation. Failures
// are logged per watcher and never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) {
	if d.notifier == nil {
		return
	}
	watchers, err := d.store.WatchersFor(ctx, event.Simulation, event.Class)
	if err != nil {
		d.logger.Warn("failed to load watchers",
			"simulation", event.Simulation, "error", err)
		return
	}
	for _, watcher := range watchers {
		if err := d.notifier.Notify(ctx, watcher, event); err != nil {
			d.logger.Warn("failed to notify watcher",
				"simulation", event.Simulation, "watcher", watcher.Username, "error", err)
			continue
		}
		d.logger.Debug("notified watcher",
			"simulation", event.Simulation, "watcher", watcher.Username, "class", event.Class.Name())
	}
}
