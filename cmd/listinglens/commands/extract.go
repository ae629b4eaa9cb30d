package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/listinglens/internal/logger"
	"github.com/jmylchreest/listinglens/internal/output"
	"github.com/jmylchreest/listinglens/pkg/batch"
	"github.com/jmylchreest/listinglens/pkg/browser"
	"github.com/jmylchreest/listinglens/pkg/disclosure"
	"github.com/jmylchreest/listinglens/pkg/listing"
	"github.com/jmylchreest/listinglens/pkg/profile"
	"github.com/jmylchreest/listinglens/pkg/section"
	"github.com/jmylchreest/listinglens/pkg/session"
	"github.com/jmylchreest/listinglens/pkg/sink"
)

// defaultCSVPath is used when --csv is given without a value.
const defaultCSVPath = "property_data_successful.csv"

var validate = validator.New()

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract listings from URLs",
	Long: `Load each listing page, reveal hidden details, collect the configured
page sections and extract a structured record with an LLM.

URLs come from --url, --file, or stdin (one per line). Invalid URLs are
reported and skipped. Every valid URL produces exactly one record, either a
listing or a failure.

Examples:
  listinglens extract -u "https://example.com/listing/1" -u "https://example.com/listing/2"
  listinglens extract -f urls.txt -c 4 --csv
  listinglens extract -f urls.txt --format jsonl -o listings.jsonl --event-log events.jsonl`,
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	flags := extractCmd.Flags()

	// Inputs
	flags.StringSliceP("url", "u", nil, "listing URL(s) (can be repeated)")
	flags.StringP("file", "f", "", "file with one URL per line (- for stdin)")
	flags.String("profile", "", "site profile YAML (default: built-in profile)")

	// Browser
	flags.String("browser", browserChrome, "browser backend: chrome, remote, playwright, static")
	flags.String("chrome-path", "", "Chrome/Chromium binary (default: auto-detect)")
	flags.String("browser-url", "", "DevTools URL for --browser remote")
	flags.Bool("install-driver", false, "let playwright download its driver and browser")
	flags.Bool("headful", false, "show the browser window")

	// Pool
	flags.IntP("workers", "c", batch.DefaultConfig().Workers, "concurrent page sessions")
	flags.Float64("rate", 0, "max tasks started per second (0=unlimited)")

	// Timeouts
	flags.Duration("page-timeout", session.DefaultConfig().PageLoadTimeout, "page load timeout")
	flags.Duration("settle", session.DefaultConfig().SettleDelay, "wait after page load")
	flags.Duration("control-wait", disclosure.DefaultConfig().ControlWait, "wait for each disclosure pattern")
	flags.Duration("extract-wait", section.DefaultConfig().Wait, "wait for each section selector")

	// Oracle
	flags.StringP("provider", "p", "", "LLM provider: gemini, anthropic, openai, openrouter, ollama (auto-detects from env vars)")
	flags.StringP("model", "m", "", "model name (provider-specific)")
	flags.StringP("api-key", "k", "", "API key (or use env var)")
	flags.String("base-url", "", "custom API base URL")
	flags.String("max-content-size", "0", "max markup sent to the LLM (e.g., 100KB, 1MB, 0=unlimited)")
	flags.Bool("structured", false, "request schema-constrained output where the provider supports it")
	flags.Bool("no-clean", false, "send collected markup without stripping scripts and styles")

	// Output
	flags.StringP("output", "o", "", "output file (default: stdout)")
	flags.String("format", string(output.FormatTable), "output format: table, json, jsonl, yaml, csv")
	flags.String("csv", "", "also write successful listings as CSV to this file")
	flags.Lookup("csv").NoOptDefVal = defaultCSVPath

	// Sinks
	flags.String("postgres-dsn", "", "upsert successful listings into PostgreSQL")
	flags.String("mongo-uri", "", "upsert successful listings into MongoDB")
	flags.String("mongo-db", sink.DefaultDatabase, "MongoDB database")

	// Bind to viper
	_ = viper.BindPFlag("provider", flags.Lookup("provider"))
	_ = viper.BindPFlag("model", flags.Lookup("model"))
	_ = viper.BindPFlag("api_key", flags.Lookup("api-key"))
	_ = viper.BindPFlag("base_url", flags.Lookup("base-url"))
	_ = viper.BindPFlag("browser", flags.Lookup("browser"))
	_ = viper.BindPFlag("chrome_path", flags.Lookup("chrome-path"))
	_ = viper.BindPFlag("workers", flags.Lookup("workers"))
	_ = viper.BindPFlag("postgres_dsn", flags.Lookup("postgres-dsn"))
	_ = viper.BindPFlag("mongo_uri", flags.Lookup("mongo-uri"))
	_ = viper.BindPFlag("mongo_db", flags.Lookup("mongo-db"))
}

// runConfig is everything a batch needs, resolved from flags, config and the
// site profile.
type runConfig struct {
	Profile    *profile.Profile
	Browser    browser.Config
	Session    session.Config
	Disclosure disclosure.Config
	Section    section.Config
	Batch      batch.Config
}

// resolveConfig applies defaults, then the profile, then explicitly set flags.
func resolveConfig(cmd *cobra.Command) (*runConfig, error) {
	flags := cmd.Flags()

	p := profile.Default()
	if path, _ := flags.GetString("profile"); path != "" {
		loaded, err := profile.Load(path)
		if err != nil {
			return nil, err
		}
		p = loaded
	}

	rc := &runConfig{
		Profile:    p,
		Browser:    browser.DefaultConfig(),
		Session:    p.ApplySession(session.DefaultConfig()),
		Disclosure: p.ApplyDisclosure(disclosure.DefaultConfig()),
		Section:    p.ApplySection(section.DefaultConfig()),
		Batch:      batch.DefaultConfig(),
	}

	rc.Browser.ChromePath = viper.GetString("chrome_path")
	rc.Browser.RemoteURL, _ = flags.GetString("browser-url")
	rc.Browser.InstallDriver, _ = flags.GetBool("install-driver")
	if headful, _ := flags.GetBool("headful"); headful {
		rc.Browser.Headless = false
	}

	if flags.Changed("page-timeout") {
		rc.Session.PageLoadTimeout, _ = flags.GetDuration("page-timeout")
	}
	if flags.Changed("settle") {
		rc.Session.SettleDelay, _ = flags.GetDuration("settle")
	}
	if flags.Changed("control-wait") {
		rc.Disclosure.ControlWait, _ = flags.GetDuration("control-wait")
	}
	if flags.Changed("extract-wait") {
		rc.Section.Wait, _ = flags.GetDuration("extract-wait")
	}
	if noClean, _ := flags.GetBool("no-clean"); !noClean {
		rc.Section.Cleaner = p.Cleaner()
	}

	rc.Batch.Workers = viper.GetInt("workers")
	rc.Batch.Rate, _ = flags.GetFloat64("rate")

	for _, v := range []any{rc.Browser, rc.Session, rc.Batch} {
		if err := validate.Struct(v); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return rc, nil
}

// parseContentSize reads --max-content-size. Empty or "0" means unlimited.
func parseContentSize(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid max-content-size %q: %w", s, err)
	}
	return int(n), nil
}

func runExtract(cmd *cobra.Command, _ []string) error {
	closeLog, err := initLogger()
	if err != nil {
		logError("%v", err)
		return err
	}
	defer func() { _ = closeLog.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	flags := cmd.Flags()

	csvPath, _ := flags.GetString("csv")
	if flags.Changed("csv") && csvPath == "" {
		err := errors.New("--csv needs a file name; omit the value to use " + defaultCSVPath)
		logError("%v", err)
		return err
	}

	formatStr, _ := flags.GetString("format")
	outPath, _ := flags.GetString("output")
	format, err := output.ParseFormat(formatStr)
	if err != nil {
		logError("%v", err)
		return err
	}
	if outPath != "" && !flags.Changed("format") {
		format = output.FormatForPath(outPath, format)
	}

	maxSizeStr, _ := flags.GetString("max-content-size")
	maxContentSize, err := parseContentSize(maxSizeStr)
	if err != nil {
		logError("%v", err)
		return err
	}

	// Inputs
	urls, _ := flags.GetStringSlice("url")
	file, _ := flags.GetString("file")
	entries, err := readInputs(urls, file, cmd.InOrStdin())
	if err != nil {
		logError("%v", err)
		return err
	}
	tasks, invalid := listing.ParseTaskList(entries)
	for _, bad := range invalid {
		logger.Warn("skipping invalid input", "input", bad)
	}
	if len(tasks) == 0 {
		printRejected(cmd.ErrOrStderr(), invalid)
		err := errors.New("no valid URLs to process")
		logError("%v", err)
		return err
	}

	rc, err := resolveConfig(cmd)
	if err != nil {
		logError("%v", err)
		return err
	}

	structured, _ := flags.GetBool("structured")
	ext, err := buildOracle(maxContentSize, structured)
	if err != nil {
		logError("%v", err)
		return err
	}

	factory, err := buildFactory(viper.GetString("browser"), rc.Browser)
	if err != nil {
		logError("failed to set up browser: %v", err)
		return err
	}
	defer func() {
		if err := factory.Close(); err != nil {
			logger.Warn("closing browser factory", "error", err)
		}
	}()

	runner := session.NewRunner(rc.Session, factory,
		disclosure.New(rc.Disclosure, rc.Profile.DisclosurePatterns()),
		section.NewExtractor(rc.Section, rc.Profile.Selectors))

	orch := batch.New(rc.Batch, batch.NewProcessor(runner, ext))
	orch.OnResult = func(done, total int, rec listing.Record) {
		status := "ok"
		if rec.Failed() {
			status = string(rec.Failure.Kind)
		}
		logInfo("[%d/%d] %s %s (%.2fs)", done, total, status, rec.URL, rec.ProcessingTimeSeconds)
	}

	logger.Info("starting extraction",
		"urls", len(tasks),
		"profile", rc.Profile.Name,
		"browser", factory.Name(),
		"workers", rc.Batch.Workers)

	res := orch.Run(ctx, tasks, invalid)

	if err := writeResults(cmd, res, format, outPath, csvPath); err != nil {
		logError("%v", err)
		return err
	}
	if err := exportResults(ctx, res); err != nil {
		logError("%v", err)
		return err
	}

	logInfo("Processed %d URLs in %s: %d succeeded, %d failed, %d rejected",
		len(res.Records), elapsedText(res.Started, res.Duration),
		len(res.Successes()), len(res.Failures()), len(res.Invalid))

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// writeResults prints the chosen view, the failure table, the rejected
// inputs and, if requested, the success CSV. Table and csv output hold only
// successes; the structured formats hold every record.
func writeResults(cmd *cobra.Command, res batch.Result, format output.Format, outPath, csvPath string) error {
	var out io.Writer = cmd.OutOrStdout()
	if outPath != "" {
		f, err := os.Create(outPath) //#nosec G304 -- CLI tool writes to user-specified output file
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	records := res.Records
	if format == output.FormatTable || format == output.FormatCSV {
		records = res.Successes()
	}
	if err := writeRecords(out, format, records); err != nil {
		return err
	}

	if failures := res.Failures(); len(failures) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "\nFailed listings (%d):\n", len(failures))
		if err := writeRecords(cmd.ErrOrStderr(), output.FormatTable, failures, output.WithColumns(listing.FailureColumns...), output.WithCellWidth(0)); err != nil {
			return err
		}
	}
	printRejected(cmd.ErrOrStderr(), res.Invalid)

	if csvPath != "" {
		f, err := os.Create(csvPath) //#nosec G304 -- CLI tool writes to user-specified output file
		if err != nil {
			return fmt.Errorf("failed to create csv file: %w", err)
		}
		defer func() { _ = f.Close() }()
		if err := writeRecords(f, output.FormatCSV, res.Successes()); err != nil {
			return err
		}
		logger.Info("wrote success csv", "path", csvPath, "records", len(res.Successes()))
	}
	return nil
}

func writeRecords(w io.Writer, format output.Format, records []listing.Record, opts ...output.WriterOption) error {
	writer, err := output.NewWriter(w, format, opts...)
	if err != nil {
		return err
	}
	if err := writer.WriteAll(records); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return writer.Close()
}

func printRejected(w io.Writer, invalid []string) {
	if len(invalid) == 0 {
		return
	}
	fmt.Fprintf(w, "\nRejected inputs (%d):\n", len(invalid))
	for _, bad := range invalid {
		fmt.Fprintf(w, "  %s\n", bad)
	}
}

// exportResults saves successes to the configured sinks.
func exportResults(ctx context.Context, res batch.Result) error {
	var dsns []string
	if dsn := viper.GetString("postgres_dsn"); dsn != "" {
		dsns = append(dsns, dsn)
	}
	if uri := viper.GetString("mongo_uri"); uri != "" {
		dsns = append(dsns, withDatabase(uri, viper.GetString("mongo_db")))
	}

	// A cancelled batch still exports what it finished.
	ctx = context.WithoutCancel(ctx)
	for _, dsn := range dsns {
		openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		s, err := sink.Open(openCtx, dsn)
		cancel()
		if err != nil {
			return fmt.Errorf("opening sink: %w", err)
		}
		n, err := s.Save(ctx, res.ID, res.Records)
		_ = s.Close()
		if err != nil {
			return fmt.Errorf("saving to %s: %w", s.Name(), err)
		}
		logger.Info("exported listings", "sink", s.Name(), "records", n, "batch", res.ID)
	}
	return nil
}
