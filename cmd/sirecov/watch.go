package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/sirecov/sirecov/cache"
	"github.com/ZanzyTHEbar/sirecov/sirecov/metrics"
	"github.com/ZanzyTHEbar/sirecov/sirecov/watch"
)

func newWatchCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Load the store and keep the indexes current as other writers append to it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, flags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sweeper := cache.NewSweeper(a.queries, a.cfg.Cache.SweepInterval, a.logger)
			sweeper.Start(ctx)
			defer sweeper.Stop()

			w := watch.NewStoreWatcher(a.store.Path(), a.service, a.cfg.Watch.Debounce, a.logger)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return w.Run(gctx) })

			if a.cfg.Metrics.Enabled {
				collector := metrics.NewCollector(a.service.Coordinator(), metrics.WithSyncSource(w))
				srv := metrics.NewServer(a.cfg.Metrics.Addr, metrics.NewRegistry(collector), a.logger)
				g.Go(func() error { return srv.Serve(gctx) })
			}

			a.logger.Info().
				Int("records", a.service.Coordinator().Len()).
				Bool("metrics", a.cfg.Metrics.Enabled).
				Msg("watching for new records, interrupt to stop")

			if err := g.Wait(); err != nil {
				return err
			}
			return a.print(a.service.Coordinator().Stats())
		},
	}
}
