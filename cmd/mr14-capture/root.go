package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"github.com/Lllllllleong/mr14capture/internal/config"
	"github.com/Lllllllleong/mr14capture/internal/gcp"
	"github.com/Lllllllleong/mr14capture/internal/services"
)

// RecognizerClient is what the commands need from the Vertex AI client.
type RecognizerClient interface {
	services.Recognizer
	services.Pinger
	Close() error
}

// Deps holds the external dependencies of every command.
type Deps struct {
	LoadConfig    func(path string) (*config.Config, error)
	NewRecognizer func(ctx context.Context, cfg *config.Config) (RecognizerClient, error)
	NewStorage    func(ctx context.Context, cfg *config.Config) (*storage.Client, error)
	NewFirestore  func(ctx context.Context, cfg *config.Config) (*firestore.Client, error)

	// Sleeper replaces real waiting between attempts when set.
	Sleeper services.Sleeper
	Now     func() time.Time
	Stdout  io.Writer
	Stderr  io.Writer
}

// DefaultDeps returns the dependencies for production use.
func DefaultDeps() *Deps {
	return &Deps{
		LoadConfig: config.Load,
		NewRecognizer: func(ctx context.Context, cfg *config.Config) (RecognizerClient, error) {
			client, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.Region, clientOptions(cfg)...)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		NewStorage: func(ctx context.Context, cfg *config.Config) (*storage.Client, error) {
			client, err := storage.NewClient(ctx, clientOptions(cfg)...)
			if err != nil {
				return nil, fmt.Errorf("failed to create storage client: %w", err)
			}
			return client, nil
		},
		NewFirestore: func(ctx context.Context, cfg *config.Config) (*firestore.Client, error) {
			return gcp.NewFirestoreClient(ctx, cfg.ProjectID, clientOptions(cfg)...)
		},
		Now:    time.Now,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

func clientOptions(cfg *config.Config) []option.ClientOption {
	if cfg.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}
}

// NewRootCommand builds the mr14-capture command tree.
func NewRootCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}

	var (
		logLevel  string
		logFormat string
	)

	cmd := &cobra.Command{
		Use:   "mr14-capture",
		Short: "Capture MR-14 maintenance reports from scanned forms",
		Long: `mr14-capture reads scanned MR-14 maintenance forms (PDF or images), asks a
Vertex AI vision model to extract the 24 form fields, and exports the captured
reports as CSV or XLSX.

Examples:
  # Extract a batch with the default model and write the CSV to ./out
  mr14-capture extract --out-dir out scan1.pdf scan2.jpg

  # Use the slower model and retry failures once on the fallback model
  mr14-capture extract --model gemini-2.5-pro --retry-failed gs://scans/mr14/a.pdf

  # Check project, credentials and API access
  mr14-capture check`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(deps.Stderr, logLevel, logFormat)
		},
	}

	cmd.PersistentFlags().String("config", "mr14.yaml", "Path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	cmd.AddCommand(newExtractCommand(deps))
	cmd.AddCommand(newCheckCommand(deps))
	return cmd
}

func setupLogging(w io.Writer, level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func loadConfig(cmd *cobra.Command, deps *Deps) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := deps.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
