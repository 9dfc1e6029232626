package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/actiongate/actiongate/internal/config"
	"github.com/actiongate/actiongate/internal/console"
	"github.com/actiongate/actiongate/internal/event"
	"github.com/actiongate/actiongate/internal/gateway"
	"github.com/actiongate/actiongate/internal/logging"
)

var (
	serveAddr string
	serveDir  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway and wait for an agent to connect",
	Long: `Start the gateway for a project directory. The agent connects over the
websocket endpoint; approval prompts appear on this terminal.

The HTTP API exposes GET /status, POST /approval, and POST/DELETE /force
for driving the gateway from other tooling.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (host:port)")
	serveCmd.Flags().StringVarP(&serveDir, "directory", "d", "", "Project directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: true})
	log.Info().Str("version", Version).Str("workDir", workDir).Msg("starting actiongate")

	terminal := console.NewTerminal(os.Stdin, os.Stdout, logging.Component(log, "console"))
	g, err := gateway.New(gateway.Options{
		Config:    cfg,
		Log:       log,
		Confirmer: terminal,
		Indicator: terminal,
	})
	if err != nil {
		return err
	}
	terminal.SetResolve(g.Requests().Resolve)
	g.Bus().Subscribe(event.ChatReceived, func(ev event.Event) {
		if d, ok := ev.Data.(event.ChatData); ok {
			terminal.Say(d.Message)
		}
	})
	go terminal.Run()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return g.Run(ctx)
}
