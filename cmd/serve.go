package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/naka-gawa/pr-audit/internal/scheduler"
	transport "github.com/naka-gawa/pr-audit/internal/transport/http"
	"github.com/naka-gawa/pr-audit/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the reports over HTTP and ingests on a schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var worker *scheduler.Worker
		noScheduler, _ := cmd.Flags().GetBool("no-scheduler")
		if a.config.Scheduler.Enabled && !noScheduler {
			worker = scheduler.NewWorker(a.auditor, a.config.Scheduler.Interval, a.logger)
		}

		address, _ := cmd.Flags().GetString("address")
		if address == "" {
			address = a.config.HTTP.Address
		}
		return runServer(ctx, a.auditor, worker, address, a.logger)
	},
}

// runServer serves HTTP and, when worker is set, scheduled ingestion. It returns
// only after both have stopped, so the caller may close the store afterwards.
func runServer(ctx context.Context, auditor usecase.Auditor, worker *scheduler.Worker, address string, logger *log.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	if worker != nil {
		g.Go(func() error {
			worker.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		return transport.Serve(ctx, address, transport.NewHandler(auditor, logger).Routes(), logger)
	})
	return g.Wait()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("address", "", "Listen address (overrides http.address)")
	serveCmd.Flags().Bool("no-scheduler", false, "Disable scheduled ingestion")
}
