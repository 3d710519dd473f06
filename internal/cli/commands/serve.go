package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/simdb-io/simdb/internal/notify"
	"github.com/simdb-io/simdb/internal/remote"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the SimDB remote service",
		Long: `Serve the SimDB HTTP API backed by the configured database. Clients
push, publish, pull and query simulations through this service; watcher
notifications go out by email when an email server is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			cfg := cmdCtx.Cfg
			if cfg.Server.AdminPassword == "" {
				return fmt.Errorf("server.admin_password is not configured")
			}
			if listen == "" {
				listen = cfg.Server.Listen
			}
			if err := os.MkdirAll(cfg.Server.UploadFolder, 0o750); err != nil {
				return fmt.Errorf("failed to create upload folder: %w", err)
			}

			var notifier notify.Notifier
			if cfg.Email.Server != "" {
				notifier = notify.NewSMTPNotifier(notify.SMTPConfig{
					Server:   cfg.Email.Server,
					Port:     cfg.Email.Port,
					User:     cfg.Email.User,
					Password: cfg.Email.Password,
					From:     cfg.Email.From,
				})
			}

			serverCfg := remote.ServerConfig{
				Store:         cmdCtx.Store,
				Listen:        listen,
				UploadDir:     cfg.Server.UploadFolder,
				Credentials:   remote.StaticPasswordValidator(cfg.Server.AdminPassword),
				TokenLifetime: cfg.Server.TokenLifetime,
				Notifier:      notifier,
				Logger:        cmdCtx.Logger,
			}
			if cfg.Server.SSLEnabled {
				if cfg.Server.SSLCertFile == "" || cfg.Server.SSLKeyFile == "" {
					return fmt.Errorf("ssl_enabled requires ssl_cert_file and ssl_key_file")
				}
				serverCfg.CertFile = cfg.Server.SSLCertFile
				serverCfg.KeyFile = cfg.Server.SSLKeyFile
			}
			srv := remote.NewServer(serverCfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Address to bind (default: server.listen)")
	return cmd
}
