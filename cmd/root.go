// Package cmd defines the orderscraper command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/orderscraper/internal/app"
	"github.com/JakeFAU/orderscraper/internal/config"
	"github.com/JakeFAU/orderscraper/internal/pipeline"
)

var cfgFile string

// Runner runs the pipeline over a list of years.
type Runner interface {
	Run(ctx context.Context, years []int) (pipeline.Summary, error)
}

// App is the slice of the service container the commands use.
// Tests swap in a fake through newApp.
type App interface {
	Logger() *zap.Logger
	NewRunner() (Runner, error)
	Close()
}

type appAdapter struct {
	*app.App
}

func (a appAdapter) NewRunner() (Runner, error) {
	r, err := a.Runner()
	if err != nil {
		return nil, err
	}
	return r, nil
}

var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return appAdapter{App: a}, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orderscraper",
		Short: "Archive storefront order invoices as PDFs.",
		Long: `orderscraper signs in to a storefront account, walks the order history
for the requested years, and saves every finalized order as a PDF in the
output directory. Orders already on disk are skipped, so runs can be repeated.
New documents can optionally be emailed, mirrored to GCS, announced on
Pub/Sub and indexed in Postgres.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newFetchCmd())
	return cmd
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "orderscraper:", err)
		os.Exit(1)
	}
}
