package cli

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/estisync/internal/client/engine"
)

func newWatchCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync on start and then on every interval until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *App) error {
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return a.watch(ctx, cmd.OutOrStdout(), metricsAddr)
			})
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address, e.g. :9090")
	return cmd
}

// watch runs the scheduler until ctx is done, printing a report to out after
// every cycle. A cancelled context is a clean shutdown.
func (a *App) watch(ctx context.Context, out io.Writer, metricsAddr string) error {
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error(ctx, "metrics server failed", "error", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		a.logger.Info(ctx, "serving metrics", "addr", metricsAddr)
	}

	a.scheduler.OnCycle = func(rep *engine.Report, err error) {
		if rep != nil && !errors.Is(err, context.Canceled) {
			printReport(out, rep)
		}
	}
	a.scheduler.Trigger()

	err := a.scheduler.Run(ctx)
	if errors.Is(err, context.Canceled) {
		a.logger.Info(context.Background(), "watch stopped")
		return nil
	}
	return err
}
