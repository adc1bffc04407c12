package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/machinefabric/cardbridge-go/config"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var configPath string
	var check bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the plugin host server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := wireApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if check {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "config ok: transport=%s store=%s resources=%s runtimes=%d\n",
					cfg.Transport, cfg.Store.Driver, cfg.Resources.Driver, len(cfg.Runtimes))
				return err
			}
			return a.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to cardbridge.toml")
	cmd.Flags().BoolVar(&check, "check", false, "wire everything, print a summary and exit")
	return cmd
}
