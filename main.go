package main

import (
	"context"
	"fmt"
	"os"

	"github.com/deemkeen/rendezvous/db"
	"github.com/deemkeen/rendezvous/util"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   util.Name,
		Short: "Federated event server",
		Long: `A small ActivityPub server for events. Actors publish events, follow
each other and join events across federated servers.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		serveCmd(),
		addUserCmd(),
		tokenCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger every command shares.
func setup() (*util.AppConfig, *zap.Logger, error) {
	conf, err := util.ReadConf(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := util.NewLogger(verbose || conf.Conf.Debug)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("configuration loaded", zap.String("source", conf.Source))
	return conf, logger, nil
}

func openDB(ctx context.Context, conf *util.AppConfig, logger *zap.Logger) (*db.DB, error) {
	path := util.ResolveFilePath(conf.Conf.DbPath)
	database, err := db.Open(ctx, path, conf.BaseURL(), logger.Named("db"))
	if err != nil {
		return nil, err
	}
	logger.Debug("database opened", zap.String("path", path))
	return database, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(util.GetNameAndVersion())
		},
	}
}
