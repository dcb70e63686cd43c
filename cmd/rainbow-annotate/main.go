// ABOUTME: Entry point for the rainbow-annotate highlight server
// ABOUTME: Serves decorated article views and annotation CRUD over HTTP

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/RcityHarold/rainbow-annotate/internal/annotator"
	"github.com/RcityHarold/rainbow-annotate/internal/api"
	"github.com/RcityHarold/rainbow-annotate/internal/auth"
	"github.com/RcityHarold/rainbow-annotate/internal/config"
	"github.com/RcityHarold/rainbow-annotate/internal/document"
	"github.com/RcityHarold/rainbow-annotate/internal/store"
)

// version is set by goreleaser at build time.
var version = "dev"

// getConfigPath returns the path to the config file.
// Priority: ANNOTATE_CONFIG env var > XDG_CONFIG_HOME/rainbow-annotate/config.yaml > ~/.config/rainbow-annotate/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ANNOTATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "rainbow-annotate", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: rainbow-annotate <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve              Start the highlight server")
		fmt.Println("  init               Create a starter config file")
		fmt.Println("  token --user ID    Mint an access token for a user")
		fmt.Println("  version            Print the version")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "init":
		runInit()
	case "token":
		runToken(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func runServe() {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	highlightStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to open highlight store", "error", err)
		os.Exit(1)
	}
	defer highlightStore.Close()

	provider, err := document.NewProvider(cfg.Content.Dir, cfg.Content.CacheTTL)
	if err != nil {
		logger.Error("failed to open content directory", "error", err)
		os.Exit(1)
	}
	defer provider.Close()

	svc := annotator.New(highlightStore, provider, auth.ContextIdentity{}, logger)
	server := api.NewServer(svc, auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)), logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: server.Handler(),
	}

	go func() {
		logger.Info("rainbow-annotate listening",
			"addr", cfg.Server.HTTPAddr,
			"content_dir", cfg.Content.Dir,
			"version", version)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("shutdown did not complete cleanly", "error", err)
	}
}

func runInit() {
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "config already exists at %s\n", path)
		os.Exit(1)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate secret: %v\n", err)
		os.Exit(1)
	}

	starter := fmt.Sprintf(`server:
  http_addr: "127.0.0.1:8470"

database:
  path: "%s"

content:
  dir: "./articles"
  cache_ttl: "5m"

auth:
  jwt_secret: "%s"

logging:
  level: "info"
  format: "text"
`, defaultDBPath(), base64.StdEncoding.EncodeToString(secret))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create config directory: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(path, []byte(starter), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write config: %v\n", err)
		os.Exit(1)
	}

	color.Green("Created %s", path)
	fmt.Println("Edit content.dir to point at your article markdown directory, then run:")
	fmt.Println()
	color.Cyan("  rainbow-annotate serve")
}

func runToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	user := fs.String("user", "", "user id to mint the token for (required)")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "token lifetime")
	fs.Parse(args)

	if *user == "" {
		fmt.Fprintln(os.Stderr, "token: --user is required")
		os.Exit(1)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(*user, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate token: %v\n", err)
		os.Exit(1)
	}

	color.Green("Token for %s (valid %s):", *user, *ttl)
	fmt.Println(token)
}

// defaultDBPath returns the default highlight database location.
// Priority: XDG_DATA_HOME/rainbow-annotate > ~/.local/share/rainbow-annotate
func defaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "highlights.db" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "rainbow-annotate", "highlights.db")
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
