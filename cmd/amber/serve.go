package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/amber-eyes/internal/log"
	"github.com/teslashibe/amber-eyes/pkg/app"
)

var (
	servePort    int
	serveConnect bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run gaze tracking, the voice session and the render surface",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "render surface port (overrides web.port)")
	serveCmd.Flags().BoolVar(&serveConnect, "connect", false, "open a voice session at startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Web.Port = servePort
	}

	a, err := app.New(cfg, log.L())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	defer a.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.Run(ctx, serveConnect)
}
