// Package commands implements the SimDB subcommands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/simdb-io/simdb/internal/cli/config"
	"github.com/simdb-io/simdb/internal/refval"
	"github.com/simdb-io/simdb/internal/remote"
	"github.com/simdb-io/simdb/internal/store"
	"github.com/simdb-io/simdb/internal/syncer"
	"github.com/simdb-io/simdb/pkg/core"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
	Store  *store.Store
}

// NewCommandContext creates a CommandContext with an open local store.
// Returns the context and a cleanup function that must be called
// (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())

	st, err := openStore(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = st.Close()
	}
	return &CommandContext{Cfg: cfg, Logger: logger, Store: st}, cleanup, nil
}

// NewCommandContextWithoutStore creates a CommandContext without
// opening the database. Useful for commands that only touch files.
func NewCommandContextWithoutStore(cmd *cobra.Command) *CommandContext {
	return &CommandContext{
		Cfg:    getConfig(),
		Logger: config.GetLogger(cmd.Context()),
	}
}

func getConfig() *config.Config {
	if cfg := config.Current(); cfg != nil {
		return cfg
	}
	// Fallback for commands constructed outside the root command.
	cfg, err := config.Load("", nil)
	if err != nil {
		return &config.Config{
			Database: config.DatabaseConfig{
				Type: config.DefaultDatabaseType,
				File: config.DefaultDatabaseFile(),
			},
		}
	}
	return cfg
}

func openStore(cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	switch cfg.Database.Type {
	case "", "sqlite":
		dir := filepath.Dir(cfg.Database.File)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		return store.Open(store.Options{
			Driver: store.DriverSQLite,
			DSN:    cfg.Database.File,
			Logger: logger,
		})
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.Name,
			cfg.Database.User, cfg.Database.Password)
		return store.Open(store.Options{
			Driver: store.DriverPostgres,
			DSN:    dsn,
			Logger: logger,
		})
	default:
		return nil, fmt.Errorf("unknown database type %q", cfg.Database.Type)
	}
}

// remoteClient builds a client for a named remote, applying any
// configured token.
func (c *CommandContext) remoteClient(name string) (string, *remote.Client, error) {
	resolved, rc, err := c.Cfg.Remote(name)
	if err != nil {
		return "", nil, err
	}
	client, err := remote.NewClient(remote.ClientOptions{
		BaseURL: rc.URL,
		Token:   rc.Token,
		Logger:  c.Logger,
	})
	if err != nil {
		return "", nil, err
	}
	return resolved, client, nil
}

// newSyncer wires the synchronization engine with terminal credential
// prompts and the configured validation policy.
func (c *CommandContext) newSyncer() *syncer.Syncer {
	return syncer.New(c.Store, &terminalCredentials{cfg: c.Cfg},
		refval.New(c.Store, c.Logger),
		syncer.Options{
			AutoValidate: c.Cfg.Validation.AutoValidate,
			ErrorOnFail:  c.Cfg.Validation.ErrorOnFail,
		}, c.Logger)
}

// terminalCredentials prompts for a password on the controlling
// terminal. The username comes from the remote's configuration when
// set.
type terminalCredentials struct {
	cfg *config.Config
}

func (t *terminalCredentials) Credentials(remoteName string) (string, string, error) {
	username := ""
	if rc, ok := t.cfg.Remotes[remoteName]; ok {
		username = rc.Username
	}
	if username == "" {
		fmt.Fprintf(os.Stderr, "Username for %s: ", remoteName)
		if _, err := fmt.Scanln(&username); err != nil {
			return "", "", fmt.Errorf("read username: %w", err)
		}
	}
	fmt.Fprintf(os.Stderr, "Password for %s@%s: ", username, remoteName)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", "", fmt.Errorf("read password: %w", err)
	}
	return username, string(password), nil
}

// withNetworkRetry retries fn on transient network failures with
// exponential backoff.
func withNetworkRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(time.Second))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, core.ErrNetwork) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// resolveLocal turns a UUID, alias or UUID prefix into a simulation
// UUID against the local store.
func (c *CommandContext) resolveLocal(ctx context.Context, token string) (uuid.UUID, error) {
	return c.Store.Resolve(ctx, token)
}

// parseConstraints parses query arguments of the form key=value
// (exact, case-insensitive) or key~value (substring).
func parseConstraints(args []string) ([]core.Constraint, error) {
	constraints := make([]core.Constraint, 0, len(args))
	for _, arg := range args {
		if key, value, ok := strings.Cut(arg, "~"); ok && !strings.Contains(key, "=") {
			constraints = append(constraints, core.Constraint{
				Key: key, Op: core.OpContains, Value: value,
			})
			continue
		}
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("bad constraint %q: expected key=value or key~value", arg)
		}
		constraints = append(constraints, core.Constraint{
			Key: key, Op: core.OpEquals, Value: value,
		})
	}
	return constraints, nil
}
