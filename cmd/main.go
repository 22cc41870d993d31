package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/NatureBlueee/Towow-sub000/cmd/node"
	"github.com/NatureBlueee/Towow-sub000/config"
	"github.com/NatureBlueee/Towow-sub000/logging"
)

var (
	apiPort    int
	natsURL    string
	dataDir    string
	scenesFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "resonance-node",
	Short: "Signal resonance and negotiation node",
	Long:  `Runs the negotiation core: responder cascade, offer barrier, aggregation and echo collection behind a REST API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		// Flags override the environment.
		flags := cmd.Flags()
		if flags.Changed("api-port") {
			cfg.APIPort = apiPort
		}
		if flags.Changed("nats") {
			cfg.NATSURL = natsURL
		}
		if flags.Changed("data-dir") {
			cfg.DataDir = dataDir
		}
		if flags.Changed("scenes") {
			cfg.ScenesFile = scenesFile
		}
		if flags.Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		logging.Init(cfg.LogLevel, cfg.Environment)
		return run(cfg)
	},
}

func init() {
	rootCmd.Flags().IntVar(&apiPort, "api-port", 3000, "API server port")
	rootCmd.Flags().StringVar(&natsURL, "nats", "", "NATS URL, empty runs without a message bus")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "Badger data directory, empty keeps data in memory")
	rootCmd.Flags().StringVar(&scenesFile, "scenes", "", "Scene catalog YAML file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := node.NewNode(cfg)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	runErr := n.Start(ctx)

	shutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := n.Stop(shutdown); err != nil {
		logging.For("main").WithError(err).Warn("Unclean shutdown")
	}
	return runErr
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
