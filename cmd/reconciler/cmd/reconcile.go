package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/naseerahmed599/enprom-reconciler/cmd/reconciler/config"
	"github.com/naseerahmed599/enprom-reconciler/internal/ingest"
	"github.com/naseerahmed599/enprom-reconciler/internal/reconciler"
	"github.com/naseerahmed599/enprom-reconciler/internal/reporter"
	"github.com/naseerahmed599/enprom-reconciler/internal/workflow"
	"github.com/naseerahmed599/enprom-reconciler/pkg/errors"
	"github.com/naseerahmed599/enprom-reconciler/pkg/logger"
)

// Flags for the reconcile command
var (
	apiKey          string
	baseURL         string
	fromDate        string
	toDate          string
	costCenters     []string
	concurrency     int
	requestTimeout  time.Duration
	maxRetries      int
	toleranceFlag   string
	lookaheadMonths int
	validStages     []string
	ledgerDir       string
	fxTable         string
	outputFormat    string
	outputFile      string
	problemsOnly    bool
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile ledger entries with workflow invoices",
	Long: `Reconcile fetches invoices from the workflow service for the given date
range, reads the matching months from the ledger directory, and reports per
invoice whether date, cost center and amount agree between the two sides.

The workflow service is queried month by month; documents filed after their
invoice month are found via the lookahead window. Non-EUR amounts are
normalized using the FX rate table.

Examples:
  # Basic reconciliation over one quarter
  reconciler reconcile --from 2024-01-01 --to 2024-03-31 --ledger-dir ./journal

  # Restrict to two cost centers, write JSON
  reconciler reconcile --from 2024-01-01 --to 2024-01-31 \
    --cost-centers 250042,250041 --output-format json --output-file report.json

  # Non-EUR invoices with an FX table, looser tolerance
  reconciler reconcile --from 2024-01-01 --to 2024-06-30 \
    --ledger-dir ./journal --fx-table rates.csv --tolerance 0.05

  # Only show invoices needing attention
  reconciler reconcile --from 2024-01-01 --to 2024-01-31 --problems-only`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	// Connection flags, shared with the costcenters command via the root
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "workflow service API key (env RECONCILER_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "workflow service base URL (env RECONCILER_BASE_URL)")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", 30*time.Second, "per-request timeout")
	viper.BindPFlag("api-key", rootCmd.PersistentFlags().Lookup("api-key"))
	viper.BindPFlag("base-url", rootCmd.PersistentFlags().Lookup("base-url"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))

	// Range flags
	reconcileCmd.Flags().StringVar(&fromDate, "from", "", "range start date, inclusive (YYYY-MM-DD, required)")
	reconcileCmd.Flags().StringVar(&toDate, "to", "", "range end date, inclusive (YYYY-MM-DD, required)")
	reconcileCmd.Flags().StringSliceVar(&costCenters, "cost-centers", nil, "comma-separated cost centers to restrict both sides")

	// Fetch tuning flags
	reconcileCmd.Flags().IntVar(&concurrency, "concurrency", 10, "worker pool size for workflow requests")
	reconcileCmd.Flags().IntVar(&maxRetries, "max-retries", 3, "attempts per workflow request")
	reconcileCmd.Flags().IntVar(&lookaheadMonths, "lookahead-months", reconciler.DefaultLookaheadMonths,
		fmt.Sprintf("extra months listed past the range (max %d)", reconciler.MaxLookaheadMonths))
	reconcileCmd.Flags().StringSliceVar(&validStages, "valid-stages", config.DefaultValidStages(),
		"workflow stages considered reconcilable")

	// Matching flags
	reconcileCmd.Flags().StringVarP(&toleranceFlag, "tolerance", "t", "0.01", "amount tolerance in EUR")

	// Data source flags
	reconcileCmd.Flags().StringVar(&ledgerDir, "ledger-dir", "", "directory with journal-YYYY-MM.csv files (required)")
	reconcileCmd.Flags().StringVar(&fxTable, "fx-table", "", "CSV with currency,date,rate rows for non-EUR invoices")

	// Output flags
	reconcileCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	reconcileCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")
	reconcileCmd.Flags().BoolVar(&problemsOnly, "problems-only", false, "suppress matched invoices in the output")

	reconcileCmd.MarkFlagRequired("from")
	reconcileCmd.MarkFlagRequired("to")
	reconcileCmd.MarkFlagRequired("ledger-dir")

	viper.BindPFlag("concurrency", reconcileCmd.Flags().Lookup("concurrency"))
	viper.BindPFlag("max-retries", reconcileCmd.Flags().Lookup("max-retries"))
	viper.BindPFlag("tolerance", reconcileCmd.Flags().Lookup("tolerance"))
	viper.BindPFlag("lookahead-months", reconcileCmd.Flags().Lookup("lookahead-months"))
	viper.BindPFlag("ledger-dir", reconcileCmd.Flags().Lookup("ledger-dir"))
	viper.BindPFlag("fx-table", reconcileCmd.Flags().Lookup("fx-table"))
	viper.BindPFlag("output-format", reconcileCmd.Flags().Lookup("output-format"))
	viper.BindPFlag("output-file", reconcileCmd.Flags().Lookup("output-file"))
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	// viper takes precedence so env vars and config files can override
	apiKey = viper.GetString("api-key")
	baseURL = viper.GetString("base-url")
	concurrency = viper.GetInt("concurrency")
	maxRetries = viper.GetInt("max-retries")
	toleranceFlag = viper.GetString("tolerance")
	lookaheadMonths = viper.GetInt("lookahead-months")
	ledgerDir = viper.GetString("ledger-dir")
	fxTable = viper.GetString("fx-table")
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")
	if d := viper.GetDuration("timeout"); d > 0 {
		requestTimeout = d
	}

	if apiKey == "" {
		return fmt.Errorf("api-key is required (flag --api-key or env RECONCILER_API_KEY)")
	}
	if baseURL == "" {
		return fmt.Errorf("base-url is required (flag --base-url or env RECONCILER_BASE_URL)")
	}

	if _, err := time.Parse("2006-01-02", fromDate); err != nil {
		return fmt.Errorf("invalid from date, use YYYY-MM-DD: %w", err)
	}
	if _, err := time.Parse("2006-01-02", toDate); err != nil {
		return fmt.Errorf("invalid to date, use YYYY-MM-DD: %w", err)
	}

	if !reporter.OutputFormat(outputFormat).IsValid() {
		return fmt.Errorf("invalid output format %q, valid formats: console, json, csv", outputFormat)
	}

	if concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if maxRetries < 1 {
		return fmt.Errorf("max-retries must be at least 1")
	}
	if lookaheadMonths < 0 || lookaheadMonths > reconciler.MaxLookaheadMonths {
		return fmt.Errorf("lookahead-months must be between 0 and %d", reconciler.MaxLookaheadMonths)
	}
	if _, err := config.ParseTolerance(toleranceFlag); err != nil {
		return err
	}

	if info, err := os.Stat(ledgerDir); err != nil || !info.IsDir() {
		return fmt.Errorf("ledger-dir is not a readable directory: %s", ledgerDir)
	}
	if fxTable != "" {
		if _, err := os.Stat(fxTable); err != nil {
			return fmt.Errorf("fx-table does not exist: %s", fxTable)
		}
	}
	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("output directory does not exist: %s", dir)
			}
		}
	}
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.GetGlobalLogger()

	workflowConfig, err := config.CreateWorkflowConfig(baseURL, apiKey, requestTimeout)
	if err != nil {
		return err
	}
	client, err := workflow.NewClient(workflowConfig)
	if err != nil {
		return err
	}
	source, err := config.CreateLedgerSource(ledgerDir)
	if err != nil {
		return err
	}
	rates, err := config.CreateRateSource(fxTable)
	if err != nil {
		return err
	}
	tolerance, err := config.ParseTolerance(toleranceFlag)
	if err != nil {
		return err
	}

	from, _ := time.Parse("2006-01-02", fromDate)
	to, _ := time.Parse("2006-01-02", toDate)

	run := ingest.NewRunContext(rates)
	ingestor := ingest.NewIngestor(client, source, run,
		config.CreateIngestConfig(concurrency, maxRetries, validStages), log)
	service := reconciler.NewService(ingestor, run, log)

	out, err := service.Run(ctx, reconciler.Request{
		From:            from,
		To:              to,
		CostCenters:     costCenters,
		LookaheadMonths: lookaheadMonths,
		Tolerance:       tolerance,
	})
	if err != nil {
		if errors.IsCancelled(err) && out != nil {
			fmt.Fprintln(os.Stderr, "Cancelled; partial ingestion statistics follow.")
		} else {
			return err
		}
	}

	writer, closeWriter, err := openOutput(outputFile)
	if err != nil {
		return err
	}
	defer closeWriter()

	generator, err := reporter.NewSafeReportGenerator(
		config.CreateReportConfig(outputFormat, problemsOnly), log)
	if err != nil {
		return err
	}
	return generator.GenerateSafely(out, writer)
}

// openOutput returns the report destination and a close function
func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create output file: %w", err)
	}
	return f, func() { f.Close() }, nil
}
