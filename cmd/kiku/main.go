// Package main is the kiku CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/cli"
	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/rag"
	"github.com/hyperjump/kiku/internal/server"
	"github.com/hyperjump/kiku/internal/watcher"
	"github.com/hyperjump/kiku/pkg/utils"
)

var version = "dev"

// loadConfig loads config from path. When path is the default, a config.yaml in
// the current directory takes precedence (for development). A missing default
// config yields the built-in defaults. .env files next to the config and in the
// current directory are loaded first so that api_key_env references resolve.
// Returns the config and the path that was actually used.
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		path = config.DefaultPath()
	}
	if path == config.DefaultPath() {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				path = fallback
			}
		}
	}
	if err := config.LoadEnv(".env", filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, "", err
	}
	var cfg *config.Config
	var err error
	if path == config.DefaultPath() {
		cfg, err = config.LoadOrDefault(path)
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "server":
		runServer(args)
	case "chat":
		runChat(args)
	case "search":
		runSearch(args)
	case "import":
		runImport(args)
	case "watch":
		runWatch(args)
	case "refresh":
		runRefresh(args)
	case "stats":
		runStats(args)
	case "version", "--version", "-v":
		fmt.Printf("kiku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// setup loads config and builds the logger for commands that run components in-process.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	logger.Info("Config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return cfg, logger
}

func newSeedWatcher(cfg *config.Config, components *Components, logger *zap.Logger) *watcher.Watcher {
	return watcher.New(
		cfg.Import.Directories,
		cfg.Import.Extensions,
		func(ctx context.Context, path string) {
			if _, err := components.Importer.ImportFile(ctx, path); err != nil {
				logger.Warn("Seed import failed", zap.String("path", path), zap.Error(err))
			}
		},
		watcher.WithLogger(logger),
		watcher.WithDebounce(cfg.Import.Debounce),
		watcher.WithRecursive(cfg.Import.RecursiveOrDefault()),
	)
}

func waitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()
	if err := components.Initialize(ctx, logger); err != nil {
		logger.Fatal("Failed to load corpus", zap.Error(err))
	}

	if len(cfg.Import.Directories) > 0 {
		w := newSeedWatcher(cfg, components, logger)
		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
		go func() {
			if err := w.SyncExisting(ctx); err != nil {
				logger.Warn("Seed sync interrupted", zap.Error(err))
			}
		}()
	}

	opts := []server.Option{server.WithVersion(version)}
	if components.Metrics != nil {
		opts = append(opts, server.WithMetrics(components.Metrics, cfg.Metrics.Path))
	}
	opts = append(opts, server.WithStorage(components.Storage))
	srv := server.NewServer(components.Knowledge, components.Products, &cfg.Server, logger, opts...)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	waitForSignal()
	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// reorderArgs moves any flags (and their values) that appear after the
// positional arguments to the front so that flag.Parse sees them. Go's flag
// package stops at the first non-flag argument.
func reorderArgs(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// joinArgs joins positional args so multi-word messages work with or without quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// serverURL returns flagValue, or the address from the config when it is empty.
func serverURL(flagValue, configPath string) string {
	if flagValue != "" {
		return flagValue
	}
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return config.ServerConfig{Host: "localhost", Port: 8080}.URL()
	}
	return cfg.Server.URL()
}

// clientFlags registers the flags shared by commands that talk to a running server.
type clientFlags struct {
	server *string
	config *string
	output *string
	json   *bool
}

func addClientFlags(fs *flag.FlagSet) clientFlags {
	return clientFlags{
		server: fs.String("server", "", "server URL (default: from config, http://localhost:8080)"),
		config: fs.String("config", config.DefaultPath(), "config file path (used to find the server)"),
		output: fs.String("output", "text", "output format: text or json"),
		json:   fs.Bool("json", false, "shorthand for --output json"),
	}
}

func (f clientFlags) client() *cli.Client {
	return cli.NewClient(serverURL(*f.server, *f.config), 2*time.Minute)
}

func (f clientFlags) format() cli.OutputFormat {
	if *f.json {
		return cli.OutputJSON
	}
	return cli.OutputFormat(*f.output)
}

func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	cf := addClientFlags(fs)
	corpus := fs.String("corpus", rag.CorpusKnowledge, "corpus: knowledge or products")
	session := fs.String("session", "", "session id to continue (default: new session)")
	_ = fs.Parse(reorderArgs(args))

	message := joinArgs(fs.Args())
	if message == "" {
		fatalf("Usage: kiku chat [flags] <message>")
	}
	reply, err := cf.client().Chat(context.Background(), *corpus, message, *session)
	if err != nil {
		fatalf("Chat failed: %v", err)
	}
	if err := cli.WriteChatReply(os.Stdout, reply, cf.format()); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	cf := addClientFlags(fs)
	corpus := fs.String("corpus", rag.CorpusKnowledge, "corpus: knowledge or products")
	limit := fs.Int("limit", 0, "number of results (default: corpus top_k)")
	kw := fs.Bool("keyword", false, "use keyword (full-text) search instead of semantic retrieval")
	_ = fs.Parse(reorderArgs(args))

	query := joinArgs(fs.Args())
	if query == "" {
		fatalf("Usage: kiku search [flags] <query>")
	}
	results, err := cf.client().Search(context.Background(), *corpus, query, *limit, *kw)
	if err != nil {
		fatalf("Search failed: %v", err)
	}
	if err := cli.WriteSearchResults(os.Stdout, results, cf.format()); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runRefresh(args []string) {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	cf := addClientFlags(fs)
	corpus := fs.String("corpus", "all", "corpus: knowledge, products or all")
	_ = fs.Parse(args)

	corpora := []string{*corpus}
	if *corpus == "all" {
		corpora = []string{rag.CorpusKnowledge, rag.CorpusProducts}
	}
	client := cf.client()
	for _, c := range corpora {
		size, err := client.Refresh(context.Background(), c)
		if err != nil {
			fatalf("Refresh %s failed: %v", c, err)
		}
		fmt.Printf("%s: %d entries cached\n", c, size)
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	cf := addClientFlags(fs)
	_ = fs.Parse(args)

	stats, err := cf.client().Stats(context.Background())
	if err != nil {
		fatalf("Stats failed: %v", err)
	}
	if err := cli.WriteStatistics(os.Stdout, stats, cf.format()); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "config file path")
	output := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(reorderArgs(args))

	if fs.NArg() == 0 {
		fatalf("Usage: kiku import [flags] <file>...")
	}
	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()

	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	failed := false
	for _, path := range fs.Args() {
		res, err := components.Importer.ImportFile(ctx, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
			continue
		}
		_ = cli.WriteImportResult(os.Stdout, res, cli.OutputFormat(*output))
	}
	if failed {
		os.Exit(1)
	}
}

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(reorderArgs(args))

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	if fs.NArg() > 0 {
		cfg.Import.Directories = fs.Args()
	}
	if len(cfg.Import.Directories) == 0 {
		fatalf("No seed directories: set import.directories in the config or pass them as arguments")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	w := newSeedWatcher(cfg, components, logger)
	if err := w.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	defer w.Stop()
	if err := w.SyncExisting(ctx); err != nil {
		logger.Warn("Seed sync interrupted", zap.Error(err))
	}
	fmt.Printf("Watching %s (Ctrl+C to stop)\n", strings.Join(w.Directories(), ", "))
	waitForSignal()
}

func printUsage() {
	fmt.Println(`kiku - Retrieval-augmented chat over a knowledge base and a product catalog

Usage:
  kiku server [flags]             Start the HTTP server
  kiku chat [flags] <message>     Send a chat message to a running server
  kiku search [flags] <query>     Retrieve entries without generating a reply
  kiku import [flags] <file>...   Import seed files (.json, .yaml, .xlsx) into the store
  kiku watch [flags] [dir...]     Import seed files as they appear in directories
  kiku refresh [flags]            Reload the server's vector caches from the store
  kiku stats [flags]              Show corpus and cache statistics
  kiku version                    Show version
  kiku help                       Show this help

Server, Import and Watch Flags:
  --config string    Config file path (default: ~/.kiku/config.yaml)
  --debug            Enable debug logging

Chat, Search, Refresh and Stats Flags:
  --server string    Server URL (default: from config, http://localhost:8080)
  --corpus string    knowledge or products (refresh also accepts all)
  --output string    Output format: text or json (default: text)
  --json             Shorthand for --output json

Chat Flags:
  --session string   Continue an existing session

Search Flags:
  --limit int        Number of results (default: corpus top_k)
  --keyword          Full-text search instead of semantic retrieval

Examples:
  kiku server
  kiku chat "What is Python?"
  kiku chat --corpus products "a phone under 10 million"
  kiku search --corpus products --limit 5 gaming laptop
  kiku import seeds/products.xlsx
  kiku watch ./seeds
  kiku stats --json`)
}
