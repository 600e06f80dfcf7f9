// Package main is the askdoc CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/pergamon/askdoc/internal/config"
	"github.com/pergamon/askdoc/internal/embedding"
	"github.com/pergamon/askdoc/internal/ingest"
	"github.com/pergamon/askdoc/internal/llm"
	"github.com/pergamon/askdoc/internal/metrics"
	"github.com/pergamon/askdoc/internal/models"
	"github.com/pergamon/askdoc/internal/server"
	"github.com/pergamon/askdoc/internal/store"
	"github.com/pergamon/askdoc/internal/watcher"
	"github.com/pergamon/askdoc/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/askdoc/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml
// in the current directory wins if it exists, so running from the project
// directory picks up the project's config.
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
		// Missing config file is fine: defaults cover local use.
		if os.IsNotExist(err) || strings.Contains(err.Error(), "no such file") {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, "", nil
		}
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// .env carries GEMINI_API_KEY in development; absence is not an error.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "server":
		runServer()
	case "ask":
		runAsk()
	case "upload":
		runUpload()
	case "ingest":
		runIngest()
	case "documents":
		runDocuments()
	case "delete":
		runDelete()
	case "status":
		runStatus()
	case "metrics":
		runMetrics()
	case "version", "--version", "-v":
		fmt.Printf("askdoc version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`askdoc - document question answering over your own files

Usage:
  askdoc server    [-config path] [-debug]         run the HTTP API server
  askdoc ask       [-server url] <question...>     ask a question
  askdoc upload    [-server url] <file...>         upload files to a running server
  askdoc ingest    [-config path] <file...>        ingest files directly (no server)
  askdoc documents [-server url]                   list documents
  askdoc delete    [-server url] <document-id>     delete a document
  askdoc status    [-server url]                   show index status
  askdoc metrics   [-server url]                   show query metrics
  askdoc version                                   print version
`)
}

// components bundles everything the server and direct ingestion need.
type components struct {
	Store    *store.Store
	Provider embedding.Provider
	Pipeline *ingest.Pipeline
	LLM      *llm.Service
	Tracker  *metrics.Tracker
}

func (c *components) Close() {
	if c.Tracker != nil {
		_ = c.Tracker.Close()
	}
	if c.Provider != nil {
		_ = c.Provider.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	var provider embedding.Provider
	if apiKey == "" {
		logger.Warn("GEMINI_API_KEY not set, using deterministic mock embeddings")
		provider = embedding.NewMockProvider(384)
	} else {
		provider = embedding.NewGeminiProvider(apiKey, cfg.Embedding.Model)
	}
	provider = embedding.NewCachingProvider(provider, cfg.Embedding.CacheSize)

	st, err := store.New(cfg.Storage.DataDir, provider, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	tracker, err := metrics.NewTracker(cfg.Storage.MetricsDBPath)
	if err != nil {
		return nil, fmt.Errorf("open metrics: %w", err)
	}
	pipeline := ingest.NewPipeline(st,
		ingest.WithLogger(logger),
		ingest.WithChunker(ingest.NewChunker(cfg.Retrieval.ChunkSize)))
	answerer := llm.NewService(apiKey, cfg.LLM.Model, llm.WithLogger(logger))

	return &components{
		Store:    st,
		Provider: provider,
		Pipeline: pipeline,
		LLM:      answerer,
		Tracker:  tracker,
	}, nil
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedPath, err := loadConfig(*configPath)
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
		zap.String("config_path", resolvedPath),
		zap.Bool("debug", debugMode))

	comps, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer comps.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var watchSvc *watcher.Watcher
	if cfg.Watch.Directory != "" {
		watchSvc = watcher.New(cfg.Watch.Directory, cfg.Watch.Extensions, func(path string) {
			// Re-dropping a file with the same name replaces the document.
			documentID := "file_" + filepath.Base(path)
			if _, err := comps.Store.DeleteDocument(documentID); err != nil {
				logger.Warn("watch replace failed", zap.String("path", path), zap.Error(err))
			}
			if _, err := comps.Pipeline.Process(watchCtx, documentID, path, filepath.Base(path), false); err != nil {
				logger.Warn("watch ingest failed", zap.String("path", path), zap.Error(err))
			}
		}, watcher.WithLogger(logger))
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
	}

	srv := server.NewServer(comps.Store, comps.Pipeline, comps.LLM, comps.Tracker, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8000", "server URL")
	documentID := fs.String("document", "", "restrict to one document ID")
	topK := fs.Int("top-k", 0, "number of chunks to retrieve (0 = server default)")
	alpha := fs.Float64("alpha", -1, "dense weight in [0,1] (-1 = server default)")
	asJSON := fs.Bool("json", false, "print raw JSON response")
	_ = fs.Parse(os.Args[2:])

	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		fmt.Println("Usage: askdoc ask [flags] <question...>")
		os.Exit(1)
	}

	req := models.AskRequest{Question: question, DocumentID: *documentID, TopK: *topK}
	if *alpha >= 0 {
		req.Alpha = alpha
	}
	var resp models.AnswerResponse
	if err := postJSON(*serverURL+"/ask", req, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
		os.Exit(1)
	}
	if *asJSON {
		printJSON(resp)
		return
	}
	fmt.Println(resp.Answer)
	fmt.Printf("\nconfidence: %.3f  latency: %.0fms  sources:\n", resp.ConfidenceScore, resp.LatencyMs)
	for i, ch := range resp.SourceChunks {
		fmt.Printf("  %d. %s (score %.3f) %s\n", i+1, ch.Filename, ch.Score, utils.Truncate(ch.Text, 80))
	}
}

func runUpload() {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8000", "server URL")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Println("Usage: askdoc upload [flags] <file...>")
		os.Exit(1)
	}

	failed := 0
	for _, path := range fs.Args() {
		resp, err := uploadOne(*serverURL, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Printf("%s: %s (document %s)\n", path, resp.Message, resp.DocumentID)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func uploadOne(serverURL, path string) (*models.UploadResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	resp, err := http.Post(serverURL+"/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out models.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Println("Usage: askdoc ingest [flags] <file...>")
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	comps, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer comps.Close()

	failed := 0
	for _, path := range fs.Args() {
		documentID := "file_" + filepath.Base(path)
		n, err := comps.Pipeline.Process(context.Background(), documentID, path, filepath.Base(path), false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Printf("%s: %d chunks indexed (document %s)\n", path, n, documentID)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func runDocuments() {
	fs := flag.NewFlagSet("documents", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8000", "server URL")
	_ = fs.Parse(os.Args[2:])

	var docs []models.DocumentStatus
	if err := getJSON(*serverURL+"/documents", &docs); err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		os.Exit(1)
	}
	if len(docs) == 0 {
		fmt.Println("No documents.")
		return
	}
	for _, doc := range docs {
		processed := "-"
		if doc.ProcessedAt != nil {
			processed = doc.ProcessedAt.Format(time.RFC3339)
		}
		fmt.Printf("%s  %-10s  %4d chunks  %s  %s\n",
			doc.DocumentID, doc.Status, doc.ChunksCount, processed, doc.Filename)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8000", "server URL")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() != 1 {
		fmt.Println("Usage: askdoc delete [flags] <document-id>")
		os.Exit(1)
	}
	id := fs.Arg(0)

	req, err := http.NewRequest(http.MethodDelete, *serverURL+"/documents/"+id, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Delete failed: %v\n", err)
		os.Exit(1)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Delete failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		fmt.Fprintf(os.Stderr, "Delete failed: %s\n", strings.TrimSpace(string(body)))
		os.Exit(1)
	}
	fmt.Printf("Deleted %s\n", id)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8000", "server URL")
	_ = fs.Parse(os.Args[2:])

	var status map[string]interface{}
	if err := getJSON(*serverURL+"/status", &status); err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(status)
}

func runMetrics() {
	fs := flag.NewFlagSet("metrics", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8000", "server URL")
	_ = fs.Parse(os.Args[2:])

	var summary metrics.Summary
	if err := getJSON(*serverURL+"/metrics", &summary); err != nil {
		fmt.Fprintf(os.Stderr, "Metrics failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(summary)
}

func postJSON(url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func getJSON(url string, out interface{}) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}
