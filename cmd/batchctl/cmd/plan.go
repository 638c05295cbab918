package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"direct-debit-engine/cmd/batchctl/config"
	"direct-debit-engine/internal/dedup"
	"direct-debit-engine/internal/eligibility"
	"direct-debit-engine/internal/engine"
	"direct-debit-engine/internal/parsers"
	"direct-debit-engine/internal/reporter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the plan command
var (
	invoicesFile   string
	membersFile    string
	collectionDate string
	startDate      string
	endDate        string
	memberType     string
	minAmount      float64
	maxAmount      float64
	currency       string

	mediumThreshold float64
	maxConcurrency  int

	outputFormat string
	outputFile   string
	includeLog   bool
)

// planCmd represents the plan command
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan a direct debit collection batch",
	Long: `Plan builds a draft collection batch from invoice and member exports.

It selects eligible unpaid invoices within the date range, attaches and
validates each member's bank details, compares every entry against the
member directory for likely duplicates, and scores the batch risk. The
resulting report shows exactly what blocks the batch from generation.

This command requires:
- An unpaid invoice export (CSV format)
- A member directory export (CSV format)

Examples:
  # Basic plan for a collection date
  batchctl plan --invoices invoices.csv --members members.csv --collection-date 2025-03-01

  # Restrict to a posting window and member type
  batchctl plan --invoices invoices.csv --members members.csv \
    --collection-date 2025-03-01 --start-date 2025-01-01 --end-date 2025-02-28 \
    --member-type Regular

  # Stricter duplicate surfacing, JSON output to a file
  batchctl plan --invoices invoices.csv --members members.csv \
    --collection-date 2025-03-01 --medium-threshold 0.6 \
    --output-format json --output-file plan.json`,

	PreRunE: validatePlanFlags,
	RunE:    runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)

	// Required flags
	planCmd.Flags().StringVarP(&invoicesFile, "invoices", "i", "", "path to unpaid invoice CSV export (required)")
	planCmd.Flags().StringVarP(&membersFile, "members", "m", "", "path to member directory CSV export (required)")
	planCmd.Flags().StringVar(&collectionDate, "collection-date", "", "collection date (YYYY-MM-DD, required)")

	// Selection flags
	planCmd.Flags().StringVar(&startDate, "start-date", "", "invoice date range start (YYYY-MM-DD, default: 1 year back)")
	planCmd.Flags().StringVar(&endDate, "end-date", "", "invoice date range end (YYYY-MM-DD, default: today)")
	planCmd.Flags().StringVar(&memberType, "member-type", "", "restrict to one member type")
	planCmd.Flags().Float64Var(&minAmount, "min-amount", 0, "minimum invoice amount")
	planCmd.Flags().Float64Var(&maxAmount, "max-amount", 0, "maximum invoice amount (0: no cap)")
	planCmd.Flags().StringVar(&currency, "currency", "EUR", "batch currency")

	// Detection flags
	planCmd.Flags().Float64Var(&mediumThreshold, "medium-threshold", 0.4, "similarity score above which conflicts surface for review (0.4-0.8)")
	planCmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 4, "duplicate detection worker limit")

	// Output flags
	planCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	planCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")
	planCmd.Flags().BoolVar(&includeLog, "include-log", false, "include the batch processing log in the report")

	// Mark required flags
	planCmd.MarkFlagRequired("invoices")
	planCmd.MarkFlagRequired("members")
	planCmd.MarkFlagRequired("collection-date")

	// Bind flags to viper
	viper.BindPFlag("invoices", planCmd.Flags().Lookup("invoices"))
	viper.BindPFlag("members", planCmd.Flags().Lookup("members"))
	viper.BindPFlag("collection-date", planCmd.Flags().Lookup("collection-date"))
	viper.BindPFlag("start-date", planCmd.Flags().Lookup("start-date"))
	viper.BindPFlag("end-date", planCmd.Flags().Lookup("end-date"))
	viper.BindPFlag("member-type", planCmd.Flags().Lookup("member-type"))
	viper.BindPFlag("min-amount", planCmd.Flags().Lookup("min-amount"))
	viper.BindPFlag("max-amount", planCmd.Flags().Lookup("max-amount"))
	viper.BindPFlag("currency", planCmd.Flags().Lookup("currency"))
	viper.BindPFlag("medium-threshold", planCmd.Flags().Lookup("medium-threshold"))
	viper.BindPFlag("max-concurrency", planCmd.Flags().Lookup("max-concurrency"))
	viper.BindPFlag("output-format", planCmd.Flags().Lookup("output-format"))
	viper.BindPFlag("output-file", planCmd.Flags().Lookup("output-file"))
	viper.BindPFlag("include-log", planCmd.Flags().Lookup("include-log"))
}

func validatePlanFlags(cmd *cobra.Command, args []string) error {
	// Get values from viper (allows override from config file)
	invoicesFile = viper.GetString("invoices")
	membersFile = viper.GetString("members")
	collectionDate = viper.GetString("collection-date")
	startDate = viper.GetString("start-date")
	endDate = viper.GetString("end-date")
	memberType = viper.GetString("member-type")
	minAmount = viper.GetFloat64("min-amount")
	maxAmount = viper.GetFloat64("max-amount")
	currency = viper.GetString("currency")
	mediumThreshold = viper.GetFloat64("medium-threshold")
	maxConcurrency = viper.GetInt("max-concurrency")
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")
	includeLog = viper.GetBool("include-log")

	if err := validateFileExists(invoicesFile, "invoice export"); err != nil {
		return err
	}
	if err := validateFileExists(membersFile, "member export"); err != nil {
		return err
	}

	for name, value := range map[string]string{
		"collection-date": collectionDate,
		"start-date":      startDate,
		"end-date":        endDate,
	} {
		if value == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", value); err != nil {
			return fmt.Errorf("invalid %s format. Use YYYY-MM-DD: %w", name, err)
		}
	}

	validFormats := map[string]bool{"console": true, "json": true, "csv": true}
	if !validFormats[outputFormat] {
		return fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", outputFormat)
	}

	if minAmount < 0 || maxAmount < 0 {
		return fmt.Errorf("amount bounds cannot be negative")
	}

	detectionConfig := config.CreateDetectionConfig(mediumThreshold, maxConcurrency)
	if err := detectionConfig.Validate(); err != nil {
		return fmt.Errorf("invalid detection settings: %w", err)
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

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	handler := NewCLIErrorHandler()

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Planning collection batch...\n")
		fmt.Fprintf(os.Stderr, "Invoice export: %s\n", invoicesFile)
		fmt.Fprintf(os.Stderr, "Member export: %s\n", membersFile)
	}

	// Load the collaborator exports
	parseConfig := config.CreateParseConfig()

	invoiceParser := parsers.NewInvoiceParser(parseConfig)
	invoices, invoiceErrors, err := invoiceParser.ParseInvoices(invoicesFile)
	if err != nil {
		return fmt.Errorf("failed to read invoice export: %w", err)
	}

	memberParser := parsers.NewMemberParser(parseConfig)
	members, memberErrors, err := memberParser.ParseMembers(membersFile)
	if err != nil {
		return fmt.Errorf("failed to read member export: %w", err)
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Loaded %d invoices (%d skipped), %d members (%d skipped)\n",
			len(invoices), len(invoiceErrors), len(members), len(memberErrors))
	}
	reportParseErrors(invoiceErrors, "invoice")
	reportParseErrors(memberErrors, "member")

	// Wire the engine over in-memory collaborators
	directory := engine.NewMemoryMemberDirectory(members)
	selector := eligibility.NewSelector(engine.NewMemoryInvoiceStore(invoices), directory)

	detector := dedup.NewDetectionEngine(config.CreateDetectionConfig(mediumThreshold, maxConcurrency))
	detector.LoadDirectory(directory.Members())

	service := engine.NewService(selector, detector)

	request, err := buildCreateRequest()
	if err != nil {
		return err
	}

	batch, err := service.CreateBatch(ctx, request)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	detail, err := service.GetBatch(batch.ID)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	conflicts, err := service.GetConflicts(batch.ID)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	// Render the report
	reportConfig := config.CreateReportConfig(outputFormat)
	reportConfig.IncludeBatchLog = includeLog

	output := os.Stdout
	if outputFile != "" {
		output, err = os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer output.Close()
	}

	report := &reporter.BatchReport{
		Detail:     detail,
		Conflicts:  conflicts,
		AuditTrail: service.Audit().ForBatch(batch.ID),
	}
	if err := reporter.NewBatchReporter(reportConfig).Render(report, output); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "\nPlan complete: %d entries, total %s %s, risk %s.\n",
			batch.EntryCount(), batch.TotalAmount().StringFixed(2), batch.Currency, detail.Risk.Level)
		if len(batch.Conflicts) > 0 {
			fmt.Fprintf(os.Stderr, "%d duplicate conflicts need review before generation.\n", len(batch.Conflicts))
		}
	}

	return nil
}

// buildCreateRequest assembles the batch request from the validated flags
func buildCreateRequest() (engine.CreateBatchRequest, error) {
	collection, err := time.Parse("2006-01-02", collectionDate)
	if err != nil {
		return engine.CreateBatchRequest{}, fmt.Errorf("invalid collection date: %w", err)
	}

	filters := eligibility.Filters{
		DateFrom:   time.Now().AddDate(-1, 0, 0),
		DateTo:     time.Now(),
		MemberType: memberType,
	}
	if startDate != "" {
		filters.DateFrom, _ = time.Parse("2006-01-02", startDate)
	}
	if endDate != "" {
		filters.DateTo, _ = time.Parse("2006-01-02", endDate)
	}
	if minAmount > 0 {
		bound := decimal.NewFromFloat(minAmount)
		filters.AmountMin = &bound
	}
	if maxAmount > 0 {
		bound := decimal.NewFromFloat(maxAmount)
		filters.AmountMax = &bound
	}

	return engine.CreateBatchRequest{
		CollectionDate: collection,
		Currency:       currency,
		Filters:        filters,
	}, nil
}

func reportParseErrors(parseErrors []*parsers.ParseError, kind string) {
	if len(parseErrors) == 0 || !viper.GetBool("verbose") {
		return
	}
	for _, parseErr := range parseErrors {
		fmt.Fprintf(os.Stderr, "  skipped %s row: %v\n", kind, parseErr)
	}
}
