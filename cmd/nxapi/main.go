package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sarayalth/nxapi/internal/adapters/config"
	"github.com/Sarayalth/nxapi/internal/bootstrap"
	"github.com/Sarayalth/nxapi/pkg/contextkeys"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// cli carries state shared by every subcommand.
type cli struct {
	configFile string
	app        *bootstrap.App
	cleanup    func()
}

// skipApp marks commands that run without wiring the application.
const skipApp = "nxapi/skip-app"

func (c *cli) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "nxapi",
		Short:        "Nintendo Switch Online session token and credential tool",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipApp] == "true" {
				return nil
			}
			app, cleanup, err := bootstrap.InitializeApp(cmd.Context(), config.ConfigFile(c.configFile))
			if err != nil {
				return fmt.Errorf("initialize: %w", err)
			}
			c.app, c.cleanup = app, cleanup
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.cleanup != nil {
				c.cleanup()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&c.configFile, "config", "", "config file (default: search $XDG_CONFIG_HOME/nintendo-znc and .)")

	cmd.AddCommand(
		c.authCmd(),
		c.tokenCmd(),
		c.credentialCmd(),
		c.usersCmd(),
		c.nsoCmd(),
		c.pctlCmd(),
		c.serveCmd(),
		c.eventsCmd(),
		versionCmd(),
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the version",
		Annotations: map[string]string{skipApp: "true"},
		Args:        cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	ctx = context.WithValue(ctx, contextkeys.RequestIDKey, "cli-main")

	c := &cli{}
	err := c.rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		// cobra already printed the error
		os.Exit(1)
	}
}
