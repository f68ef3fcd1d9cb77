package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ts-data/internal/app"
	"ts-data/internal/slogx"
)

const (
	exitErrors      = 1
	exitInterrupted = 130
)

func init() {
	slog.SetDefault(slogx.NewDefault("info"))
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

type flags struct {
	config          string
	symbols         []string
	symbolsFile     string
	dataDir         string
	startDate       string
	full            bool
	storageFormat   string
	compression     string
	noDatetimeIndex bool
	workers         int
	watch           bool
	verbose         bool
}

func execute(args []string) int {
	var f flags
	exitCode := 0

	root := &cobra.Command{
		Use:           "ts-data",
		Short:         "Download 1-minute bars from TradeStation into parquet",
		Example:       "ts-data -s @ES -s @NQ --storage-format monthly",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			code, err := runDownload(cmd, &f)
			exitCode = code
			return err
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&f.config, "config", "c", app.DefaultConfigPath, "path to the YAML configuration file")
	pf.StringVar(&f.dataDir, "data-dir", "", "data directory")
	pf.StringVar(&f.storageFormat, "storage-format", "", "storage layout: single, daily, monthly or auto")
	pf.BoolVar(&f.noDatetimeIndex, "no-datetime-index", false, "read and write datasets without the datetime index")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")

	fl := root.Flags()
	fl.StringSliceVarP(&f.symbols, "symbols", "s", nil, "symbols to download (repeatable or comma separated)")
	fl.StringVar(&f.symbolsFile, "symbols-file", "", "symbols file (.txt or .json)")
	fl.StringVar(&f.startDate, "start-date", "", "earliest date to download (YYYY-MM-DD)")
	fl.BoolVar(&f.full, "full", false, "re-download from the start date, ignoring stored data")
	fl.StringVar(&f.compression, "compression", "", "parquet compression: zstd, snappy, gzip, lz4, none")
	fl.IntVar(&f.workers, "workers", 0, "symbols downloaded concurrently")
	fl.BoolVar(&f.watch, "watch", false, "keep running and re-download daily at the scheduled time")

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the detected storage layout and stored symbols",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, &f)
		},
	})

	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		slog.Error("ts-data failed", "error", err)
		if exitCode == 0 {
			exitCode = exitErrors
		}
	}
	return exitCode
}

// loadConfig layers the command-line flags on top of file and environment settings.
func loadConfig(cmd *cobra.Command, f *flags) (*app.Config, error) {
	cfg, err := app.LoadConfig(f.config, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, err
	}
	changed := cmd.Flags().Changed
	if changed("symbols") {
		cfg.Symbols = f.symbols
	}
	if changed("symbols-file") {
		cfg.SymbolsFile = f.symbolsFile
	}
	if changed("data-dir") {
		cfg.DataDir = f.dataDir
	}
	if changed("start-date") {
		cfg.StartDate = f.startDate
	}
	if changed("storage-format") {
		cfg.StorageFormat = f.storageFormat
	}
	if changed("compression") {
		cfg.Compression = f.compression
	}
	if changed("workers") {
		cfg.Workers = f.workers
	}
	if f.noDatetimeIndex {
		cfg.DatetimeIndex = false
	}
	if f.full {
		cfg.FullRefresh = true
	}
	if f.watch {
		cfg.Watch = true
	}
	if f.verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func runDownload(cmd *cobra.Command, f *flags) (int, error) {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return exitErrors, err
	}
	if err := cfg.Validate(); err != nil {
		return exitErrors, err
	}
	a, cleanup, err := InitializeApp(cfg)
	if err != nil {
		return exitErrors, fmt.Errorf("initialize: %w", err)
	}
	defer cleanup()

	symbols, err := app.ResolveSymbols(cfg, a.Logger)
	if err != nil {
		return exitErrors, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Logger.Info("symbols", "count", len(symbols), "incremental", !cfg.FullRefresh, "watch", cfg.Watch)
	sess, err := app.RunFlow(ctx, cfg, a.Downloader, symbols, a.Logger)
	if ctx.Err() != nil {
		a.Logger.Warn("interrupted")
		return exitInterrupted, nil
	}
	if err != nil {
		return exitErrors, err
	}
	if sess != nil && sess.Errors > 0 {
		a.Logger.Error("finished with errors", "errors", sess.Errors, "failed", sess.FailedSymbols)
		return exitErrors, nil
	}
	return 0, nil
}

func runStatus(cmd *cobra.Command, f *flags) error {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}
	logger, closeLog := slogx.New(cfg.LogLevel, "")
	defer closeLog()

	store, err := app.ProvideStorage(cfg, logger)
	if err != nil {
		return err
	}
	symbols, err := store.ListSymbols()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "data dir: %s\nlayout:   %s\n\n", cfg.DataDir, store.Format())
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tSIZE")
	var total int64
	for _, sym := range symbols {
		size, err := store.FileSize(sym)
		if err != nil {
			return err
		}
		total += size
		fmt.Fprintf(tw, "%s\t%s\n", sym, humanBytes(size))
	}
	fmt.Fprintf(tw, "total (%d)\t%s\n", len(symbols), humanBytes(total))
	return tw.Flush()
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
