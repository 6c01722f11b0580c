package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/storage"
)

// statusResponse is the shape of GET /api/v1/status.
type statusResponse struct {
	Records   int                    `json:"records"`
	IndexSize int                    `json:"index_size"`
	IndexType string                 `json:"index_type"`
	Metric    string                 `json:"metric"`
	Stale     bool                   `json:"stale"`
	Sessions  *int64                 `json:"sessions,omitempty"`
	Turns     *int64                 `json:"turns,omitempty"`
	DiskUsage *storage.Usage         `json:"disk_usage,omitempty"`
	Config    map[string]interface{} `json:"config,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the records and index directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status *statusResponse
	if *serverURL != "" {
		res, err := newAPIClient(*serverURL).Status(context.Background())
		if err != nil {
			exitf("Status failed: %v", err)
		}
		status = res
	} else {
		cfg, logger, components := openDirect(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		ctx := context.Background()
		st := components.Sync.Status()
		status = &statusResponse{
			Records:   st.Records,
			IndexSize: st.IndexSize,
			IndexType: st.IndexType,
			Metric:    st.Metric,
			Stale:     st.Stale,
			Config:    statusConfig(cfg),
		}
		if t := components.Transcripts; t != nil {
			sessions, err := t.CountSessions(ctx)
			if err != nil {
				exitf("Count sessions failed: %v", err)
			}
			turns, err := t.CountTurns(ctx)
			if err != nil {
				exitf("Count turns failed: %v", err)
			}
			status.Sessions, status.Turns = &sessions, &turns
		}
		dbPath := ""
		if cfg.Conversation.Store == "sqlite" {
			dbPath = cfg.Storage.DatabasePath
		}
		if usage, err := storage.MeasureUsage(cfg.Storage.RecordsPath, cfg.Storage.IndexPath, dbPath); err == nil {
			status.DiskUsage = &usage
		}
	}

	switch *outputFormat {
	case "json":
		if err := cli.WriteJSON(os.Stdout, status); err != nil {
			exitf("Output failed: %v", err)
		}
	case "text":
		writeStatusText(os.Stdout, status)
	default:
		exitf("Unknown output format %q; use text or json", *outputFormat)
	}
}

// statusConfig mirrors the configuration summary the server reports.
func statusConfig(cfg *config.Config) map[string]interface{} {
	return map[string]interface{}{
		"records_path":         cfg.Storage.RecordsPath,
		"index_path":           cfg.Storage.IndexPath,
		"embedding_provider":   cfg.Embedding.Provider,
		"embedding_dimensions": cfg.Embedding.Dimensions,
		"generation_provider":  cfg.Generation.Provider,
		"default_k":            cfg.Retrieval.DefaultK,
		"max_k":                cfg.Retrieval.MaxK,
		"max_distance":         cfg.Retrieval.MaxDistance,
		"lexical_fallback":     cfg.Retrieval.LexicalFallbackOrDefault(),
		"conversation_store":   cfg.Conversation.Store,
		"max_turns":            cfg.Conversation.MaxTurns,
	}
}

func writeStatusText(w io.Writer, s *statusResponse) {
	fmt.Fprintf(w, "records:            %d   # rows in the records table\n", s.Records)
	fmt.Fprintf(w, "index_size:         %d   # entries in the question index\n", s.IndexSize)
	fmt.Fprintf(w, "index_type:         %s (%s)\n", s.IndexType, s.Metric)
	if s.Stale {
		fmt.Fprintf(w, "stale:              true   # run `kotae rebuild`\n")
	}
	if s.Sessions != nil {
		fmt.Fprintf(w, "sessions:           %d\n", *s.Sessions)
	}
	if s.Turns != nil {
		fmt.Fprintf(w, "turns:              %d\n", *s.Turns)
	}
	if s.DiskUsage != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # records + index + sessions on disk\n", s.DiskUsage.Total)
	}
	if len(s.Config) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		keys := make([]string, 0, len(s.Config))
		for k := range s.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "%-20s%v\n", k+":", s.Config[k])
		}
	}
}
