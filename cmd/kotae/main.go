// Package main is the kotae CLI entry point.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/csvfmt"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/telemetry"
	"github.com/hyperjump/kotae/internal/watcher"
	"github.com/hyperjump/kotae/pkg/utils"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/kotae/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// A missing .env is fine; keys may come from the real environment.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "ask":
		runAsk()
	case "chat":
		runChat()
	case "answer":
		runAnswer()
	case "add":
		runAdd()
	case "delete":
		runDelete()
	case "list":
		runList()
	case "rebuild":
		runRebuild()
	case "status":
		runStatus()
	case "format-csv":
		runFormatCSV()
	case "columns":
		runColumns()
	case "version", "--version", "-v":
		fmt.Printf("kotae version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func exitf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// openDirect loads config and opens every component in this process.
func openDirect(configPath string, debug bool) (*config.Config, *zap.Logger, *Components) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		exitf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		exitf("Failed to create logger: %v", err)
	}
	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		exitf("Failed to initialize: %v", err)
	}
	return cfg, logger, components
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (requests, reloads, session sweeps)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Server.Tracing {
		shutdownTracing, err := telemetry.InitTracing(telemetry.TracingConfig{
			ServiceName:    "kotae",
			ServiceVersion: version,
			OutputPath:     cfg.Server.TraceOutput,
			SampleRate:     cfg.Server.TraceSampleRate,
		})
		if err != nil {
			logger.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			if err := shutdownTracing(flushCtx); err != nil {
				logger.Warn("tracing shutdown failed", zap.Error(err))
			}
		}()
		logger.Info("tracing enabled", zap.String("output", cfg.Server.TraceOutput))
	}

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	var watchSvc *watcher.Watcher
	if cfg.Watch.EnabledOrDefault() {
		sync := components.Sync
		watchSvc, err = watcher.NewWatcher(
			[]string{cfg.Storage.RecordsPath},
			func(path string) {
				rebuilt, err := sync.Reload(ctx)
				if err != nil {
					logger.Warn("reload after records change failed", zap.String("path", path), zap.Error(err))
					return
				}
				if rebuilt {
					logger.Info("records changed on disk", zap.String("path", path), zap.Int("records", sync.Status().Records))
				}
			},
			watcher.WithDebounce(cfg.Watch.Debounce),
			watcher.WithLogger(utils.NamedOrNop(logger, "watcher")),
		)
		if err != nil {
			logger.Fatal("Failed to create watcher", zap.Error(err))
		}
		if err := watchSvc.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
	}

	go components.Assembler.RunExpiry(ctx, expiryInterval(cfg.Conversation.SessionTTL))

	opts := []server.Option{}
	if components.Transcripts != nil {
		opts = append(opts, server.WithTranscriptStore(components.Transcripts))
	}
	srv := server.NewServer(components.Engine, components.Sync, components.Assembler, cfg, logger, opts...)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watchSvc != nil {
		watchSvc.Stop()
	}
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// expiryInterval sweeps idle sessions four times per TTL, never more often than once a minute.
func expiryInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}

// printSearchUsage prints search/ask subcommand usage.
func printSearchUsage(fs *flag.FlagSet, name string) {
	fmt.Fprintf(fs.Output(), "Usage: kotae %s [flags] <query>\n\n", name)
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  kotae %[1]s qual o prazo de entrega
  kotae %[1]s -k 5 "vocês aceitam pix?"
  kotae %[1]s --max-distance 0.4 --output json frete grátis
`, name)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. The flag package stops
// at the first non-flag argument.
func searchArgsReorder(args []string) []string {
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

type queryFlags struct {
	configPath  *string
	serverURL   *string
	k           *int
	maxDistance *float64
	output      *string
}

func parseQueryFlags(name string) (*queryFlags, string, cli.OutputFormat) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	f := &queryFlags{
		configPath:  fs.String("config", defaultConfigPath, "config file path (direct mode)"),
		serverURL:   fs.String("server", defaultServerURL, "server URL (empty = open the records and index directly)"),
		k:           fs.Int("k", 0, "number of results (0 = configured default)"),
		maxDistance: fs.Float64("max-distance", 0, "drop results farther than this (0 = no filter)"),
		output:      fs.String("output", "text", "output format: text, compact, or json"),
	}
	fs.Usage = func() { printSearchUsage(fs, name) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	query := buildSearchQuery(fs.Args())
	if query == "" {
		printSearchUsage(fs, name)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*f.output)
	if err != nil {
		exitf("%v", err)
	}
	return f, query, format
}

// runSearch prints the nearest stored questions with distances, without answers.
func runSearch() {
	f, query, format := parseQueryFlags("search")
	req := &models.RetrieveRequest{Query: query, K: *f.k, MaxDistance: *f.maxDistance}

	if *f.serverURL != "" {
		resp, err := newAPIClient(*f.serverURL).Search(context.Background(), req)
		if err != nil {
			exitf("Search failed: %v", err)
		}
		if err := cli.WriteSearch(os.Stdout, resp, format); err != nil {
			exitf("Output failed: %v", err)
		}
		return
	}

	_, logger, components := openDirect(*f.configPath, false)
	defer logger.Sync()
	defer components.Close()
	resp, err := components.Engine.Search(context.Background(), req)
	if err != nil {
		exitf("Search failed: %v", err)
	}
	if err := cli.WriteSearch(os.Stdout, resp.Hits(), format); err != nil {
		exitf("Output failed: %v", err)
	}
}

// runAsk prints the nearest stored questions with their answers.
func runAsk() {
	f, query, format := parseQueryFlags("ask")
	req := &models.RetrieveRequest{Query: query, K: *f.k, MaxDistance: *f.maxDistance}

	var resp *models.RetrieveResponse
	var err error
	if *f.serverURL != "" {
		resp, err = newAPIClient(*f.serverURL).Ask(context.Background(), req)
	} else {
		_, logger, components := openDirect(*f.configPath, false)
		defer logger.Sync()
		defer components.Close()
		resp, err = components.Engine.Retrieve(context.Background(), req)
	}
	if err != nil {
		exitf("Ask failed: %v", err)
	}
	if err := cli.WriteRetrieval(os.Stdout, resp, format); err != nil {
		exitf("Output failed: %v", err)
	}
}

// runChat sends one message, or reads messages line by line from stdin when none is given.
func runChat() {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = converse in this process)")
	session := fs.String("session", "", "session id (default: a new session)")
	history := fs.Bool("history", false, "print the session transcript and exit")
	clearSession := fs.Bool("clear", false, "clear the session transcript and exit")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	sessionID := strings.TrimSpace(*session)
	if sessionID == "" {
		if *history || *clearSession {
			exitf("--history and --clear need --session")
		}
		sessionID = uuid.NewString()
	}

	var c chatter
	if *serverURL != "" {
		c = &httpChatter{api: newAPIClient(*serverURL), session: sessionID}
	} else {
		_, logger, components := openDirect(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		c = &directChatter{assembler: components.Assembler, session: sessionID}
	}
	ctx := context.Background()

	switch {
	case *history:
		turns, err := c.Transcript(ctx)
		if err != nil {
			exitf("History failed: %v", err)
		}
		if err := cli.WriteTranscript(os.Stdout, turns, cli.OutputText); err != nil {
			exitf("Output failed: %v", err)
		}
		return
	case *clearSession:
		if err := c.Clear(ctx); err != nil {
			exitf("Clear failed: %v", err)
		}
		fmt.Printf("Session cleared: %s\n", sessionID)
		return
	}

	if msg := buildSearchQuery(fs.Args()); msg != "" {
		reply, err := c.Ask(ctx, msg)
		if err != nil {
			exitf("Chat failed: %v", err)
		}
		fmt.Println(reply)
		return
	}

	fmt.Fprintf(os.Stderr, "session %s (empty line or Ctrl-D to quit)\n", sessionID)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			break
		}
		msg := strings.TrimSpace(scanner.Text())
		if msg == "" {
			break
		}
		reply, err := c.Ask(ctx, msg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(reply)
	}
}

// runAnswer prints the stored answer for an exact question.
func runAnswer() {
	fs := flag.NewFlagSet("answer", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read the records file directly)")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	question := buildSearchQuery(fs.Args())
	if question == "" {
		fmt.Println("Usage: kotae answer [flags] <exact question>")
		os.Exit(1)
	}
	var answer string
	var err error
	if *serverURL != "" {
		answer, err = newAPIClient(*serverURL).FindAnswer(context.Background(), question)
	} else {
		_, logger, components := openDirect(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		answer, err = components.Engine.FindAnswer(question)
	}
	if err != nil {
		exitf("Lookup failed: %v", err)
	}
	fmt.Println(answer)
}

func runAdd() {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = write the records file directly)")
	question := fs.String("question", "", "question text")
	answer := fs.String("answer", "", "answer text")
	_ = fs.Parse(os.Args[2:])

	if strings.TrimSpace(*question) == "" && fs.NArg() >= 2 {
		*question, *answer = fs.Arg(0), fs.Arg(1)
	}
	if strings.TrimSpace(*question) == "" || strings.TrimSpace(*answer) == "" {
		fmt.Println("Usage: kotae add [flags] --question <q> --answer <a>")
		fmt.Println("       kotae add [flags] <question> <answer>")
		os.Exit(1)
	}

	var rec models.Record
	var err error
	if *serverURL != "" {
		rec, err = newAPIClient(*serverURL).AddRecord(context.Background(), models.RecordInput{Question: *question, Answer: *answer})
	} else {
		_, logger, components := openDirect(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		rec, err = components.Sync.AddQA(context.Background(), *question, *answer)
	}
	if err != nil {
		exitf("Add failed: %v", err)
	}
	fmt.Printf("Record added at position %d\n", rec.ID)
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = write the records file directly)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kotae delete [flags] <position>")
		os.Exit(1)
	}
	position, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		exitf("Invalid position %q: %v", fs.Arg(0), err)
	}

	var rec models.Record
	if *serverURL != "" {
		rec, err = newAPIClient(*serverURL).DeleteRecord(context.Background(), position)
	} else {
		_, logger, components := openDirect(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		rec, err = components.Sync.DeleteQA(context.Background(), position)
	}
	if err != nil {
		exitf("Deletion failed: %v", err)
	}
	fmt.Printf("Record deleted: %q\n", rec.Question)
}

func runList() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read the records file directly)")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		exitf("%v", err)
	}
	var recs []models.Record
	if *serverURL != "" {
		recs, err = newAPIClient(*serverURL).Records(context.Background())
		if err != nil {
			exitf("List failed: %v", err)
		}
	} else {
		_, logger, components := openDirect(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		recs = components.Store.Records()
	}
	if err := cli.WriteRecords(os.Stdout, recs, format); err != nil {
		exitf("Output failed: %v", err)
	}
}

func runRebuild() {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = rebuild the index file directly)")
	_ = fs.Parse(os.Args[2:])

	if *serverURL != "" {
		st, err := newAPIClient(*serverURL).Rebuild(context.Background())
		if err != nil {
			exitf("Rebuild failed: %v", err)
		}
		fmt.Printf("Index rebuilt: %d records\n", st.Records)
		return
	}
	_, logger, components := openDirect(*configPath, false)
	defer logger.Sync()
	defer components.Close()
	if err := components.Sync.RebuildFromStore(context.Background()); err != nil {
		exitf("Rebuild failed: %v", err)
	}
	fmt.Printf("Index rebuilt: %d records\n", components.Sync.Status().Records)
}

func runFormatCSV() {
	fs := flag.NewFlagSet("format-csv", flag.ExitOnError)
	out := fs.String("out", "", "output path (default: overwrite the input)")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: kotae format-csv [--out path] <file.csv>")
		os.Exit(1)
	}
	in := fs.Arg(0)
	dst := *out
	if dst == "" {
		dst = in
	}
	if err := csvfmt.FormatFile(in, dst); err != nil {
		exitf("Format failed: %v", err)
	}
	fmt.Printf("Formatted %s\n", dst)
}

func runColumns() {
	fs := flag.NewFlagSet("columns", flag.ExitOnError)
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 2 {
		fmt.Println("Usage: kotae columns <file.csv> <column>")
		os.Exit(1)
	}
	if err := csvfmt.PrintColumn(os.Stdout, fs.Arg(0), fs.Arg(1)); err != nil {
		exitf("Columns failed: %v", err)
	}
}

func printUsage() {
	fmt.Println(`kotae - Q&A knowledge base retrieval and chat

Usage:
  kotae server [flags]                 Start the HTTP server
  kotae search [flags] <query>         Show the nearest stored questions
  kotae ask [flags] <query>            Show the nearest stored questions with answers
  kotae chat [flags] [message]         Converse with the assistant (interactive without a message)
  kotae answer [flags] <question>      Print the stored answer for an exact question
  kotae add [flags] <question> <answer>  Add a record
  kotae delete [flags] <position>      Delete the record at position
  kotae list [flags]                   List records
  kotae rebuild [flags]                Rebuild the index from the records
  kotae status [flags]                 Show store/index/session status
  kotae format-csv [--out path] <csv>  Normalize a table (accents stripped, upper-case, empty as ND)
  kotae columns <csv> <column>         Print one column of a table
  kotae version                        Show version
  kotae help                           Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/kotae/config.yaml, or ./config.yaml if present)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") to open the
                     records and index in this process when the server is not running.

Search/Ask Flags:
  --k int                 Number of results (default from config)
  --max-distance float    Drop results farther than this (0 = no filter)
  --output string         Output format: text, compact, or json (default: text)

Chat Flags:
  --session string   Session id to continue (default: a new session)
  --history          Print the session transcript
  --clear            Clear the session transcript

Server Flags:
  --debug            Enable debug logging

Examples:
  kotae server
  kotae ask "qual o prazo de entrega?"
  kotae search --output json frete
  kotae chat --session 42 "vocês entregam no sábado?"
  kotae add "Aceitam pix?" "Sim, aceitamos pix."
  kotae delete 3
  kotae status --output json
  kotae format-csv --out produtos_fmt.csv produtos.csv
  kotae columns produtos.csv Nome`)
}
