package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/flaneur2020/vesper-bin/vesperbin"
	"github.com/flaneur2020/vesper-bin/vesperbin/catalog"
	"github.com/flaneur2020/vesper-bin/vesperbin/config"
	"github.com/flaneur2020/vesper-bin/vesperbin/container"
	"github.com/flaneur2020/vesper-bin/vesperbin/finish"
	"github.com/flaneur2020/vesper-bin/vesperbin/logger"
	"github.com/flaneur2020/vesper-bin/vesperbin/publish"
	"github.com/flaneur2020/vesper-bin/vesperbin/storage"
)

var (
	configPath string
	verbose    bool
	debug      bool

	cfg *config.Config
)

// decode flags
var (
	outputDir   string
	jobs        int
	compress    string
	catalogPath string
	mqttBroker  string
	noProgress  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vesperbin",
		Short: "Decode Vesper wildlife tag .BIN containers",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			level := cfg.Level()
			if verbose {
				level = logger.LogLevelInfo
			}
			if debug {
				level = logger.LogLevelDebug
			}
			logger.SetLogLevel(level)
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ./config.yaml when present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log progress of every file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Log debug information")

	// decode command
	decodeCmd := &cobra.Command{
		Use:   "decode [RAW_DIR]",
		Short: "Decode every IMU and audio container under a raw data folder",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDecode,
	}
	decodeCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Processed folder (overrides processed_folder)")
	decodeCmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "Files decoded in parallel (overrides concurrency)")
	decodeCmd.Flags().StringVar(&compress, "compress", "", "IMU CSV compression: none, gzip or zstd")
	decodeCmd.Flags().StringVar(&catalogPath, "catalog", "", "Catalog database; already converted files are skipped")
	decodeCmd.Flags().StringVar(&mqttBroker, "mqtt-broker", "", "Publish every report to this MQTT broker")
	decodeCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress bar (progress is enabled by default)")

	rootCmd.AddCommand(decodeCmd, newInspectCmd(), newDiagnoseCmd(), newCatalogCmd(), newSynthCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

func runDecode(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rawDir := cfg.RawDataFolder
	if len(args) > 0 {
		rawDir = args[0]
	}
	if outputDir != "" {
		cfg.ProcessedFolder = outputDir
	}
	if jobs > 0 {
		cfg.Concurrency = jobs
	}
	if compress != "" {
		cfg.Compress = compress
	}
	if catalogPath != "" {
		cfg.CatalogPath = catalogPath
	}
	if mqttBroker != "" {
		cfg.MQTT.Broker = mqttBroker
	}
	switch cfg.Compression() {
	case container.CompressionNone, container.CompressionGzip, container.CompressionZstd:
	default:
		return fmt.Errorf("unknown compression %q", cfg.Compress)
	}

	decodeOpts, err := cfg.DecodeOptions()
	if err != nil {
		return err
	}
	convOpts := vesperbin.ConverterOptions{
		Decode:      decodeOpts,
		Concurrency: cfg.Concurrency,
	}

	if cfg.CatalogPath != "" {
		store, err := catalog.Open(cfg.CatalogPath)
		if err != nil {
			return err
		}
		defer store.Close()
		convOpts.Catalog = store
	}
	if pubOpts, ok := cfg.PublishOptions(); ok {
		pub, err := publish.Connect(pubOpts)
		if err != nil {
			return err
		}
		defer pub.Close()
		convOpts.Publisher = pub
	}

	store := storage.NewLocalStorage(rawDir)
	files, err := store.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("scan %s: %w", rawDir, err)
	}
	jobList := vesperbin.JobsFor(files)
	if len(jobList) == 0 {
		fmt.Printf("No IMU or audio containers found under %s\n", rawDir)
		return nil
	}

	fin := finish.New(cfg.ProcessedFolder, cfg.Compression())
	converter := vesperbin.NewConverter(store, fin, convOpts)

	// Progress bar is enabled by default
	showProgress := !noProgress
	var progressCallback vesperbin.ProgressCallback
	var bar *progressbar.ProgressBar
	if showProgress {
		progressCallback = func(current, total int64) {
			if bar == nil && total > 0 {
				bar = progressbar.DefaultBytes(total, fmt.Sprintf("Decoding %d files", len(jobList)))
			}
			if bar != nil {
				bar.Set64(current)
			}
		}
	}

	stats, err := converter.StartConversion(ctx, jobList, progressCallback)
	if bar != nil {
		bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return err
	}

	now := time.Now()
	fmt.Println(finish.FormatSummary(stats, now))
	p, err := finish.WriteSummary(cfg.ProcessedFolder, stats, now)
	if err != nil {
		logger.Error("failed to write summary report: %v", err)
	} else {
		fmt.Println(okStyle.Render("Detailed summary saved to: ") + p)
	}
	if stats.Warnings > 0 {
		fmt.Println(warnStyle.Render(fmt.Sprintf("%d warnings, see the *_report.json files", stats.Warnings)))
	}
	if stats.FailedFiles > 0 {
		return fmt.Errorf("%d of %d files failed", stats.FailedFiles, stats.TotalFiles)
	}
	return nil
}
