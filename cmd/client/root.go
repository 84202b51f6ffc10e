package main

import (
	"os"

	"github.com/AmoolyaSuneja/ChatMe/pkg/config"
	"github.com/AmoolyaSuneja/ChatMe/pkg/logger"
	"github.com/AmoolyaSuneja/ChatMe/pkg/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagSignalURL string
	flagStoreKind string
	flagStoreDSN  string
	flagVerbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "chatme",
	Short: "Peer-to-peer video chat over WebRTC",
	Long: `ChatMe connects two participants in a room through a signaling relay.
When the relay cannot be reached, signaling falls back to a store shared by
clients on the same machine (sqlite) or network (redis).`,
	Version: "0.1.0",
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagSignalURL, "signal-url", "", "relay websocket URL (default from SIGNAL_URL)")
	pf.StringVar(&flagStoreKind, "store", "", "fallback store: memory, sqlite or redis (default from STORE_KIND)")
	pf.StringVar(&flagStoreDSN, "store-dsn", "", "sqlite file for the fallback store")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "echo logs to the console")

	rootCmd.AddCommand(joinCmd, createCmd, roomsCmd)
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		PrintError(err.Error())
		os.Exit(1)
	}
}

// loadConfig reads the environment, applies flag overrides and sets up
// file logging. Console logging is only enabled with --verbose.
func loadConfig() (*config.Config, error) {
	if err := config.Load(); err != nil {
		return nil, err
	}
	cfg := config.GlobalConfig
	if flagSignalURL != "" {
		cfg.Client.SignalURL = flagSignalURL
	}
	if flagStoreKind != "" {
		cfg.Client.StoreKind = flagStoreKind
	}
	if flagStoreDSN != "" {
		cfg.Client.StoreDSN = flagStoreDSN
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode := "client"
	if flagVerbose {
		mode = "development"
	}
	if err := logger.Init(&cfg.Log, mode); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	st, err := store.Open(cfg.Client)
	if err != nil {
		return nil, err
	}
	logger.Debug("fallback store opened", zap.String("kind", cfg.Client.StoreKind))
	return st, nil
}
