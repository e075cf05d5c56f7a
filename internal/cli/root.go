package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"roadmap/api/internal/client"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultServer = "http://localhost:8787"

type App struct {
	Server  string
	Token   string
	Format  string
	Pretty  bool
	Verbose bool
	Timeout time.Duration

	v      *viper.Viper
	logger *slog.Logger
}

func NewRootCmd() *cobra.Command {
	app := &App{v: newViper()}

	cmd := &cobra.Command{
		Use:          "roadmap",
		Short:        "Edit learning roadmaps stored on a roadmap API server",
		SilenceUsage: true,
		Long: `roadmap talks to a roadmap API server.

Configuration sources (highest first):
  1. Command line flags
  2. Environment variables (ROADMAP_SERVER, ROADMAP_TOKEN, ROADMAP_FORMAT, ...)
  3. Config file (ROADMAP_CONFIG, ./roadmap.yaml or ~/.roadmap/roadmap.yaml)`,
		Example: strings.TrimSpace(`
  # List roadmaps
  roadmap roadmaps list

  # Add a nested item and show the resulting tree
  roadmap items add <roadmap-id> --title "Goroutines" --parent <item-id>

  # Mark an item and everything under it as done
  roadmap items done <roadmap-id> <item-id>
`),
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := app.v.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		return app.load(cmd.ErrOrStderr())
	}

	cmd.PersistentFlags().String("server", defaultServer, "Roadmap API base URL")
	cmd.PersistentFlags().String("token", "", "Bearer token for the API")
	cmd.PersistentFlags().String("format", "tree", "Output format (tree|json)")
	cmd.PersistentFlags().Bool("pretty", false, "Pretty-print JSON output")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Log editor activity to stderr")
	cmd.PersistentFlags().Duration("timeout", 30*time.Second, "Timeout for one command")

	cmd.AddCommand(newRoadmapsCmd(app))
	cmd.AddCommand(newItemsCmd(app))
	cmd.AddCommand(newSearchCmd(app))

	return cmd
}

func newViper() *viper.Viper {
	v := viper.New()
	if path := os.Getenv("ROADMAP_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("roadmap")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.roadmap")
	}
	v.SetEnvPrefix("ROADMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	// A missing config file is fine.
	_ = v.ReadInConfig()
	return v
}

// load copies the resolved settings out of viper.
func (app *App) load(stderr io.Writer) error {
	app.Server = strings.TrimSpace(app.v.GetString("server"))
	if app.Server == "" {
		app.Server = defaultServer
	}
	app.Token = app.v.GetString("token")
	app.Format = strings.ToLower(strings.TrimSpace(app.v.GetString("format")))
	app.Pretty = app.v.GetBool("pretty")
	app.Verbose = app.v.GetBool("verbose")
	app.Timeout = app.v.GetDuration("timeout")

	switch app.Format {
	case "", "tree":
		app.Format = "tree"
	case "json":
	default:
		return fmt.Errorf("unknown format %q (want tree or json)", app.Format)
	}

	level := slog.LevelWarn
	if app.Verbose {
		level = slog.LevelDebug
	}
	app.logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	return nil
}

func (app *App) client() *client.Client {
	return client.New(app.Server, client.WithToken(app.Token))
}

func (app *App) wantJSON() bool {
	return app.Format == "json"
}

func writeJSON(cmd *cobra.Command, app *App, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	if app.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// commandContext bounds one command by --timeout.
func (app *App) commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	if app.Timeout <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), app.Timeout)
}
