package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	internal "github.com/ZanzyTHEbar/sirecov/sirecov"
	"github.com/ZanzyTHEbar/sirecov/sirecov/cache"
	"github.com/ZanzyTHEbar/sirecov/sirecov/config"
	"github.com/ZanzyTHEbar/sirecov/sirecov/engine"
	"github.com/ZanzyTHEbar/sirecov/sirecov/store"
)

// cliFlags holds the persistent flags shared by every subcommand.
type cliFlags struct {
	configPath string
	dataFile   string
}

// app is everything a subcommand needs once the store has been loaded.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	store   *store.FlatFileStore
	queries *cache.QueryCache
	service *engine.Service
	out     io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	flags := &cliFlags{}

	root := &cobra.Command{
		Use:           internal.DefaultAppCMDShortCut,
		Short:         "Query and maintain indexed COVID case records",
		Long:          "sirecov loads a flat file of country,date,type,cases records into in-memory indexes and answers lookups, range scans, autocompletion and severity queries over them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default searches ., .. and "+internal.DefaultConfigPath+")")
	root.PersistentFlags().StringVar(&flags.dataFile, "data", "", "record file, overrides store.dataFile")

	root.AddCommand(
		newAddCmd(flags),
		newGetCmd(flags),
		newCountryCmd(flags),
		newDateCmd(flags),
		newTypeCmd(flags),
		newRangeCmd(flags),
		newTopCmd(flags),
		newCompleteCmd(flags),
		newStatsCmd(flags),
		newWatchCmd(flags),
	)
	return root
}

// openApp loads config, builds the engine and loads the store into it.
func openApp(cmd *cobra.Command, flags *cliFlags) (*app, error) {
	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flags.dataFile != "" {
		cfg.Store.DataFile = flags.dataFile
	}

	logger := internal.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

	st, err := store.NewFlatFileStore(cfg.Store.DataFile, logger)
	if err != nil {
		return nil, err
	}
	qc := engine.NewQueryCache(cfg.Cache, logger)
	coord := engine.NewCoordinator(engine.OptionsFromConfig(cfg.Index), qc, logger)
	svc := engine.NewService(st, coord, logger)
	if err := svc.Load(cmd.Context()); err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		queries: qc,
		service: svc,
		out:     cmd.OutOrStdout(),
	}, nil
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
