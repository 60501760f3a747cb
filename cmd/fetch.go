package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/orderscraper/internal/config"
	"github.com/JakeFAU/orderscraper/internal/metrics"
)

// firstOrderYear is the earliest year the storefront has order history for.
const firstOrderYear = 1995

// now is swapped in tests.
var now = time.Now

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch [years...]",
		Short: "Download order invoices for the given years",
		Long: `Signs in once per year, discovers every order on that year's history
pages and converts each finalized invoice to a PDF. With no arguments the
current year is fetched.`,
		Example: `  orderscraper fetch -u me@example.com -p secret 2022 2023
  AMAZON_USER=me@example.com AMAZON_PASSWORD=secret orderscraper fetch --driver headless`,
		RunE: runFetchCommand,
	}

	f := cmd.Flags()
	f.StringP("user", "u", "", "storefront account email (env AMAZON_USER)")
	f.StringP("password", "p", "", "storefront account password (env AMAZON_PASSWORD)")
	f.String("dest-dir", "", "directory for generated PDFs (default \"orders/\")")
	f.Duration("cache-ttl", 0, "how long fetched pages stay cached (default 6h)")
	f.String("driver", "", "session driver: colly or headless (default \"colly\")")
	f.String("smtp-host", "", "SMTP server host (env SMTP_HOST)")
	f.Int("smtp-port", 0, "SMTP server port (env SMTP_PORT)")
	f.String("smtp-user", "", "SMTP user (env SMTP_USER)")
	f.String("smtp-password", "", "SMTP password (env SMTP_PASSWORD)")
	f.String("from-email", "", "sender address for delivered PDFs (env FROM_EMAIL)")
	f.StringSlice("to-email", nil, "recipient addresses for delivered PDFs (env TO_EMAIL)")
	return cmd
}

func runFetchCommand(cmd *cobra.Command, args []string) error {
	years, err := parseYears(args, now())
	if err != nil {
		return err
	}

	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := cmd.Context()
	appInstance, err := newApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer appInstance.Close()
	logger := appInstance.Logger()

	runner, err := appInstance.NewRunner()
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	logger.Info("fetch starting", zap.Ints("years", years), zap.String("dest_dir", cfg.Output.DestDir))
	summary, runErr := runner.Run(ctx, years)

	if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		logger.Warn("failed to write metrics textfile", zap.Error(err))
	}

	if runErr != nil {
		return fmt.Errorf("run aborted: %w", runErr)
	}
	if summary.Failed() {
		return fmt.Errorf("%d record(s) failed", summary.Total.Failed)
	}
	return nil
}

// parseYears validates the year arguments, dropping duplicates. No arguments
// means the current year.
func parseYears(args []string, at time.Time) ([]int, error) {
	if len(args) == 0 {
		return []int{at.Year()}, nil
	}
	seen := make(map[int]struct{}, len(args))
	years := make([]int, 0, len(args))
	for _, arg := range args {
		year, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid year %q", arg)
		}
		if year < firstOrderYear || year > at.Year() {
			return nil, fmt.Errorf("year %d out of range %d-%d", year, firstOrderYear, at.Year())
		}
		if _, ok := seen[year]; ok {
			continue
		}
		seen[year] = struct{}{}
		years = append(years, year)
	}
	return years, nil
}
