package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"booru-archiver/pkg/booru"
	"booru-archiver/pkg/config"
	"booru-archiver/pkg/download"
	"booru-archiver/pkg/fetch"
	"booru-archiver/pkg/history"
	"booru-archiver/pkg/metadata"
	"booru-archiver/pkg/utils"
	"booru-archiver/pkg/xmp"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "download":
		runDownload(os.Args[2:])
	case "metadata":
		runMetadata(os.Args[2:])
	case "retag":
		runRetag(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-providers":
		runListProviders()
	case "version":
		fmt.Printf("booru-archiver %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`booru-archiver - image board archiver

Usage:
  booru-archiver <command> [options]

Commands:
  download        Crawl a query and download its media files
  metadata        Reconcile downloaded files with board metadata
  retag           Insert rating tags into existing XMP sidecars
  validate        Validate configuration file
  list-providers  List supported board providers
  version         Show version info

Run 'booru-archiver <command> -h' for command-specific help.`)
}

// providerDefaults maps provider keys onto their canonical endpoints.
var providerDefaults = map[string]string{
	"danbooru": booru.DefaultDanbooruURL,
	"gelbooru": booru.DefaultGelbooruURL,
	"moebooru": booru.DefaultMoebooruURL,
	"yandere":  booru.DefaultYandereURL,
}

func setupLogger(levelStr string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", levelStr, err)
	} else {
		log.SetLevel(level)
	}
	return log
}

func loadValidatedConfig(path string, log *logrus.Logger) *config.AppConfig {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Debugf("No config file at %s, using defaults", path)
			cfg = &config.AppConfig{}
		} else {
			log.Fatalf("Config error: %v", err)
		}
	}
	warnings, err := cfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}
	return cfg
}

// buildProvider constructs the named provider with credentials pulled from
// the environment.
func buildProvider(name string, cfg *config.AppConfig, client *http.Client, log *logrus.Logger) (booru.Provider, error) {
	baseURL, ok := providerDefaults[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (see list-providers)", name)
	}

	provCfg := cfg.Providers[name]
	if provCfg.Disabled {
		return nil, fmt.Errorf("provider %q is disabled in the configuration", name)
	}
	if provCfg.BaseURL != "" {
		baseURL = provCfg.BaseURL
	}

	creds, err := config.LoadCredentials(name)
	if err != nil {
		return nil, err
	}
	if provCfg.RequireAuth && (creds.Username == "" || creds.APIKey == "") {
		return nil, fmt.Errorf("%w: provider %q requires credentials in the environment", utils.ErrMissingCredentials, name)
	}

	opts := []booru.Option{
		booru.WithHTTPClient(client),
		booru.WithLogger(logrus.NewEntry(log)),
		booru.WithCredentials(booru.Credentials{Username: creds.Username, APIKey: creds.APIKey}),
	}

	switch name {
	case "danbooru":
		return booru.NewDanbooru(baseURL, opts...)
	case "gelbooru":
		return booru.NewGelbooru(baseURL, opts...)
	case "moebooru":
		return booru.NewMoebooru(baseURL, opts...)
	case "yandere":
		return booru.NewYandere(baseURL, opts...)
	}
	return nil, fmt.Errorf("unknown provider %q", name)
}

func runDownload(args []string) {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	providerName := fs.String("provider", "gelbooru", "Board provider (see list-providers)")
	query := fs.String("query", "", "Search query to archive (required)")
	rootDir := fs.String("root", "", "Output directory (overrides config)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	withMetadata := fs.Bool("metadata", true, "Generate the metadata bundle after downloading")
	withXmp := fs.Bool("xmp", true, "Write XMP sidecars during the metadata pass")
	noHistory := fs.Bool("no-history", false, "Skip the download-history database")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: booru-archiver download [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  booru-archiver download -provider gelbooru -query yakumo_ran\n")
		fmt.Fprintf(os.Stderr, "  booru-archiver download -provider yandere -query 'fox_girl rating:safe' -no-history\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *query == "" {
		fmt.Fprintln(os.Stderr, "Error: -query is required")
		fs.Usage()
		os.Exit(1)
	}

	log := setupLogger(*logLevel)
	cfg := loadValidatedConfig(*configFile, log)
	if *rootDir == "" {
		*rootDir = filepath.Join(cfg.OutputBaseDir, *providerName)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := fetch.NewClient(cfg.HTTPClient, log)
	provider, err := buildProvider(*providerName, cfg, client, log)
	if err != nil {
		log.Fatalf("Provider setup failed: %v", err)
	}

	var store *history.Store
	if !*noHistory {
		store, err = history.NewStore(cfg.HistoryDir, logrus.NewEntry(log))
		if err != nil {
			log.Fatalf("History store setup failed: %v", err)
		}
		defer store.Close()
		go store.RunGC(ctx, 0)
	}

	var robots *fetch.RobotsGate
	userAgent := config.GetEffectiveUserAgent(cfg.Providers[*providerName], cfg)
	if config.GetEffectiveRespectRobots(cfg) {
		robots = fetch.NewRobotsGate(client, userAgent, log)
	}

	dispatcher := fetch.NewDispatcher(cfg.DownloadLimits.MaxConcurrent, cfg.DownloadLimits.MinInterval, log)
	driver := download.NewDriver(download.Config{
		Provider:     provider,
		ProviderName: *providerName,
		Client:       client,
		Dispatcher:   dispatcher,
		History:      store,
		Robots:       robots,
		UserAgent:    userAgent,
		RootDir:      *rootDir,
		PageSize:     cfg.PageSize,
		Log:          logrus.NewEntry(log),
	})

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(fmt.Sprintf("Downloading %q", *query)),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWriter(os.Stderr),
	)
	driver.OnProgress = func(download.Stats) {
		bar.Add(1)
	}

	stats, err := driver.Run(ctx, *query)
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		log.Errorf("Download run failed: %v", err)
		os.Exit(1)
	}
	log.Infof("Finished: %d downloaded, %d skipped, %d failed", stats.Downloaded, stats.Skipped, stats.Failed)

	if *withMetadata {
		queryDir := driver.QueryDir(*query)
		outputFile := filepath.Join(queryDir, "metadata.json")
		if code := generateMetadata(ctx, cfg, provider, log, metadataOptions{
			rootDir:     *rootDir,
			outputFile:  outputFile,
			mode:        "single",
			searchQuery: utils.SanitizePathComponent(*query),
			writeXmp:    *withXmp,
		}); code != 0 {
			os.Exit(code)
		}
	}
}

func runMetadata(args []string) {
	fs := flag.NewFlagSet("metadata", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	providerName := fs.String("provider", "gelbooru", "Board provider (see list-providers)")
	rootDir := fs.String("root", "", "Directory holding downloaded files (required)")
	outputFile := fs.String("output", "", "Bundle path (default <root>/metadata.json)")
	query := fs.String("query", "", "Single query to reconcile")
	crawlAll := fs.Bool("crawl", false, "Reconcile every query folder under the root")
	writeXmp := fs.Bool("xmp", true, "Write XMP sidecars")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: booru-archiver metadata [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  booru-archiver metadata -root downloads/gelbooru -query yakumo_ran\n")
		fmt.Fprintf(os.Stderr, "  booru-archiver metadata -root downloads/gelbooru -crawl -xmp=false\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *rootDir == "" {
		fmt.Fprintln(os.Stderr, "Error: -root is required")
		fs.Usage()
		os.Exit(1)
	}
	if !*crawlAll && *query == "" {
		fmt.Fprintln(os.Stderr, "Error: one of -query or -crawl is required")
		fs.Usage()
		os.Exit(1)
	}
	if *outputFile == "" {
		*outputFile = filepath.Join(*rootDir, "metadata.json")
	}

	log := setupLogger(*logLevel)
	cfg := loadValidatedConfig(*configFile, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := fetch.NewClient(cfg.HTTPClient, log)
	provider, err := buildProvider(*providerName, cfg, client, log)
	if err != nil {
		log.Fatalf("Provider setup failed: %v", err)
	}

	mode := "single"
	if *crawlAll {
		mode = "crawl"
	}
	code := generateMetadata(ctx, cfg, provider, log, metadataOptions{
		rootDir:     *rootDir,
		outputFile:  *outputFile,
		mode:        mode,
		searchQuery: *query,
		writeXmp:    *writeXmp,
	})
	os.Exit(code)
}

type metadataOptions struct {
	rootDir     string
	outputFile  string
	mode        string // "single" or "crawl"
	searchQuery string
	writeXmp    bool
}

// generateMetadata runs the scanner, the reconciler, and the bundle writer.
// Returns a process exit code.
func generateMetadata(ctx context.Context, cfg *config.AppConfig, provider booru.Provider, log *logrus.Logger, opt metadataOptions) int {
	groups, err := metadata.Scan(opt.rootDir)
	if err != nil {
		log.Errorf("Scan failed: %v", err)
		return 1
	}
	if len(groups) == 0 {
		log.Warn("No matching files found. Filenames must be numeric post ids.")
		return 0
	}
	log.Infof("Found %d files covering %d unique post ids", metadata.TotalFiles(groups), len(groups))

	byQuery := metadata.GroupByQuery(groups)
	type workload struct {
		query  string
		groups []metadata.Group
	}
	var workloads []workload

	if opt.mode == "crawl" {
		if unassigned := byQuery[""]; len(unassigned) > 0 {
			log.Warnf("Skipping %d ids outside any query folder while crawling", len(unassigned))
		}
		for query, g := range byQuery {
			if query == "" {
				continue
			}
			workloads = append(workloads, workload{query: query, groups: g})
		}
		sort.Slice(workloads, func(i, j int) bool { return workloads[i].query < workloads[j].query })
		if len(workloads) == 0 {
			log.Error("No query folders found under the root directory")
			return 1
		}
	} else {
		g, ok := byQuery[opt.searchQuery]
		if !ok {
			log.Warnf("No files under a query folder named %q, processing all %d ids instead", opt.searchQuery, len(groups))
			g = groups
		}
		workloads = []workload{{query: opt.searchQuery, groups: g}}
	}

	var writer *xmp.Writer
	var sink metadata.RecordSink
	if opt.writeXmp {
		writer = xmp.NewWriter(opt.rootDir, logrus.NewEntry(log))
		sink = writer.ProcessRecord
	}

	dispatcher := fetch.NewDispatcher(cfg.MetadataLimits.MaxConcurrent, cfg.MetadataLimits.MinInterval, log)
	reconciler := metadata.NewReconciler(provider, dispatcher, logrus.NewEntry(log))

	bundle := metadata.NewBundle(opt.rootDir, opt.mode, opt.searchQuery)
	bundle.TotalFiles = metadata.TotalFiles(groups)
	bundle.TotalUniqueIDs = len(groups)

	for _, w := range workloads {
		bar := progressbar.NewOptions(len(w.groups),
			progressbar.OptionSetDescription(fmt.Sprintf("Fetching metadata (%s)", w.query)),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWriter(os.Stderr),
		)
		reconciler.OnProgress = func(processed, total int) { bar.Set(processed) }

		records, missing, summary, err := reconciler.ResolveQuery(ctx, w.query, w.groups, sink)
		bar.Finish()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			log.Errorf("Metadata run failed for %q: %v", w.query, err)
			return 1
		}

		bundle.Records = append(bundle.Records, records...)
		bundle.MissingIDs = append(bundle.MissingIDs, missing...)
		bundle.ProcessedQueries = append(bundle.ProcessedQueries, summary)
		log.Infof("Finished %q: %d/%d ids matched, %d missing", w.query, summary.ResolvedIDs, summary.TotalIDs, summary.MissingIDs)
	}
	sort.Slice(bundle.MissingIDs, func(i, j int) bool { return bundle.MissingIDs[i] < bundle.MissingIDs[j] })
	bundle.TotalMetadataRecords = len(bundle.Records)

	if writer != nil {
		stats := writer.Stats()
		bundle.XMPSidecars = &metadata.XMPSummary{
			Attempted: stats.Attempted,
			Written:   stats.Written,
			Skipped:   stats.Skipped,
			Failed:    stats.Failed,
		}
		log.Infof("XMP sidecars: %d written, %d skipped, %d failed of %d",
			stats.Written, stats.Skipped, stats.Failed, stats.Attempted)
		for i, e := range stats.Errors {
			if i == 5 {
				log.Warnf("...and %d more sidecar errors", len(stats.Errors)-5)
				break
			}
			log.Warnf("  %s: %s", e.Path, e.Reason)
		}
	}

	if err := bundle.Write(opt.outputFile); err != nil {
		log.Errorf("Failed to write bundle: %v", err)
		return 1
	}
	log.Infof("Metadata saved to %s (%d records, %d missing ids)", opt.outputFile, bundle.TotalMetadataRecords, len(bundle.MissingIDs))
	return 0
}

func runRetag(args []string) {
	fs := flag.NewFlagSet("retag", flag.ExitOnError)
	rootDir := fs.String("root", "", "Directory holding XMP sidecars (required)")
	dryRun := fs.Bool("dry-run", false, "Report changes without writing")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: booru-archiver retag [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *rootDir == "" {
		fmt.Fprintln(os.Stderr, "Error: -root is required")
		fs.Usage()
		os.Exit(1)
	}

	log := setupLogger(*logLevel)
	stats, err := xmp.RetagRatings(*rootDir, *dryRun, logrus.NewEntry(log))
	if err != nil {
		log.Fatalf("Retag failed: %v", err)
	}
	if *dryRun {
		log.Info("Dry run: no files were modified")
	}
	log.Infof("Processed %d sidecars: %d updated, %d already tagged, %d outside rating folders, %d without tag bags, %d errors",
		stats.Processed, stats.Updated, stats.AlreadyTagged, stats.SkippedNoMatch, stats.MissingBags, stats.Errors)
	if stats.Errors > 0 {
		os.Exit(1)
	}
}

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: booru-archiver validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to the provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	keys := make([]string, 0, len(cfg.Providers))
	for k := range cfg.Providers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if _, known := providerDefaults[key]; !known {
			fmt.Fprintf(stderr, "ERROR: [%s] unknown provider\n", key)
			return 1
		}
		fmt.Fprintf(stdout, "OK: [%s]\n", key)
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

func runListProviders() {
	keys := make([]string, 0, len(providerDefaults))
	for k := range providerDefaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%-10s %s\n", k, providerDefaults[k])
	}
}
