package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Lllllllleong/mr14capture/internal/config"
	"github.com/Lllllllleong/mr14capture/internal/gcp"
	"github.com/Lllllllleong/mr14capture/internal/models"
	"github.com/Lllllllleong/mr14capture/internal/observability"
	"github.com/Lllllllleong/mr14capture/internal/services"
)

// eventSource is the CloudEvents source of every status event this tool writes.
const eventSource = "mr14-capture"

type extractOptions struct {
	model       string
	retryFailed bool
	edits       []string
	dropFailed  bool
	format      string
	outDir      string
	upload      bool
	firestore   bool
	eventsFile  string
	metricsFile string
	jsonOut     bool
	clipboard   bool
}

func newExtractCommand(deps *Deps) *cobra.Command {
	opts := &extractOptions{}

	cmd := &cobra.Command{
		Use:   "extract <file|gs://bucket/object>...",
		Short: "Extract MR-14 reports from scanned forms",
		Long: `Extract the fields of each MR-14 form and export the completed reports.

Documents are processed one at a time. A failed attempt is retried on the
fallback model with backoff; a document that still fails is reported with its
error and never stops the batch.

Use --model manual to create empty reports without calling Vertex AI.

Examples:
  mr14-capture extract scan1.pdf scan2.jpg
  mr14-capture extract --model gemini-2.5-pro --format xlsx --out-dir out *.pdf
  mr14-capture extract --set scan1.pdf:folio=12345 --drop-failed scan1.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, deps)
			if err != nil {
				return err
			}
			if opts.model == "" {
				opts.model = cfg.DefaultModel
			}
			return runExtract(cmd.Context(), deps, cfg, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.model, "model", "", "Model to request (default from config; \"manual\" skips extraction)")
	f.BoolVar(&opts.retryFailed, "retry-failed", false, "Retry failed documents once on the fallback model")
	f.StringArrayVar(&opts.edits, "set", nil, "Correct a field before export, as <filename>:<field>=<value>")
	f.BoolVar(&opts.dropFailed, "drop-failed", false, "Remove failed documents before export")
	f.StringVar(&opts.format, "format", "", "Export format: csv or xlsx (default from config)")
	f.StringVar(&opts.outDir, "out-dir", "", "Directory for the export file (default from config)")
	f.BoolVar(&opts.upload, "upload", false, "Also upload the export to the configured bucket")
	f.BoolVar(&opts.firestore, "firestore", false, "Also save completed reports to the configured Firestore collection")
	f.StringVar(&opts.eventsFile, "events-file", "", "Write document status events as CloudEvents JSON lines")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics in text format when done")
	f.BoolVar(&opts.jsonOut, "json", false, "Print all documents as JSON")
	f.BoolVar(&opts.clipboard, "clipboard", false, "Print a tab-separated summary of completed reports")
	return cmd
}

func runExtract(ctx context.Context, deps *Deps, cfg *config.Config, opts *extractOptions, inputs []string) error {
	logCtx := slog.With("model", opts.model, "inputCount", len(inputs))

	// --- 1. Load inputs ---
	var storageClient *storage.Client
	if hasGCSInputs(inputs) || opts.upload {
		client, err := deps.NewStorage(ctx, cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		storageClient = client
	}

	files, err := loadInputs(ctx, inputs, storageClient)
	if err != nil {
		return err
	}
	accepted, rejected := services.FilterUploads(files, cfg.MaxUploadFiles)
	if len(rejected) > 0 {
		fmt.Fprintf(deps.Stderr, "Archivos omitidos (%d): %s\n", len(rejected), strings.Join(rejected, ", "))
	}
	if len(accepted) == 0 {
		return errors.New("no supported files to process")
	}

	// --- 2. Wire the pipeline ---
	registry := prometheus.NewRegistry()
	metrics := observability.NewCaptureMetrics(registry)
	collection := services.NewReportCollection()

	if opts.eventsFile != "" {
		f, err := os.Create(opts.eventsFile)
		if err != nil {
			return fmt.Errorf("failed to create events file: %w", err)
		}
		defer f.Close()
		collection.Subscribe(services.NewCloudEventSink(f, eventSource).Observe)
	}
	if isTerminal(deps.Stderr) {
		collection.Subscribe(progressPrinter(deps.Stderr))
	}

	var recognizer services.Recognizer
	if opts.model != services.ManualModel || opts.retryFailed {
		client, err := deps.NewRecognizer(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to create Vertex AI client: %w", err)
		}
		defer client.Close()
		recognizer = client
	}

	extractor := services.NewExtractionClient(recognizer,
		services.WithRequestTimeout(cfg.RequestTimeout),
		services.WithExtractionMetrics(metrics),
	)
	processor := services.NewDocumentQueueProcessor(collection, extractor, processorOptions(deps, cfg, metrics)...)

	// --- 3. Process ---
	result := processor.Process(ctx, accepted, opts.model)
	logCtx.Info("Extraction finished.", "batchId", result.BatchID, "completed", result.Completed, "failed", result.Failed)

	if opts.retryFailed && result.Failed > 0 {
		retried := processor.RetryFailed(ctx, result.DocumentIDs)
		logCtx.Info("Retried failed documents.", "retried", retried)
	}

	// --- 4. Review ---
	for _, edit := range opts.edits {
		if err := applyEdit(collection, result.DocumentIDs, edit); err != nil {
			logCtx.Error("Could not apply correction.", "edit", edit, "error", err)
			fmt.Fprintf(deps.Stderr, "No se aplicó la corrección %q: %v\n", edit, err)
		}
	}
	if opts.dropFailed {
		for _, d := range collection.Snapshot() {
			if d.Status() != models.StatusError {
				continue
			}
			if err := collection.Delete(d.ID); err != nil {
				logCtx.Warn("Could not delete failed document.", "documentId", d.ID, "error", err)
			}
		}
	}

	// --- 5. Export ---
	docs := collection.Snapshot()
	if err := exportReports(ctx, deps, cfg, opts, docs, storageClient); err != nil {
		return err
	}

	// --- 6. Report ---
	printSummary(deps.Stdout, collection.Stats(), docs)
	if opts.clipboard {
		if summary := services.ClipboardSummary(docs); summary != "" {
			fmt.Fprintln(deps.Stdout, summary)
		}
	}
	if opts.jsonOut {
		enc := json.NewEncoder(deps.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(docs); err != nil {
			return fmt.Errorf("failed to encode documents: %w", err)
		}
	}
	if opts.metricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.metricsFile, registry); err != nil {
			return fmt.Errorf("failed to write metrics file: %w", err)
		}
	}
	return nil
}

func processorOptions(deps *Deps, cfg *config.Config, metrics *observability.CaptureMetrics) []services.ProcessorOption {
	opts := []services.ProcessorOption{
		services.WithRetryPolicy(services.RetryPolicy{
			FallbackModel:   cfg.FallbackModel,
			TransientDelays: cfg.Backoff.Transient,
			NetworkDelay:    cfg.Backoff.Network,
			FatalDelay:      cfg.Backoff.Fatal,
		}),
		services.WithThrottle(services.Throttle{
			Default:    cfg.Throttle.Default,
			Slow:       cfg.Throttle.Slow,
			SlowModels: cfg.SlowModels,
			Manual:     cfg.Throttle.Manual,
		}),
		services.WithProcessorMetrics(metrics),
	}
	if deps.Sleeper != nil {
		opts = append(opts, services.WithSleeper(deps.Sleeper))
	}
	if deps.Now != nil {
		opts = append(opts, services.WithClock(deps.Now))
	}
	return opts
}

// parseEdit splits "<filename>:<field>=<value>". The value may contain any character.
func parseEdit(edit string) (filename, field, value string, err error) {
	eq := strings.Index(edit, "=")
	if eq < 0 {
		return "", "", "", fmt.Errorf("missing '=' in %q", edit)
	}
	target := edit[:eq]
	colon := strings.LastIndex(target, ":")
	if colon <= 0 || colon == len(target)-1 {
		return "", "", "", fmt.Errorf("expected <filename>:<field>=<value>, got %q", edit)
	}
	return target[:colon], target[colon+1:], edit[eq+1:], nil
}

// applyEdit corrects a field on the first document of the batch with the given filename.
func applyEdit(collection *services.ReportCollection, ids []string, edit string) error {
	filename, field, value, err := parseEdit(edit)
	if err != nil {
		return err
	}
	for _, id := range ids {
		d, ok := collection.Get(id)
		if !ok || d.Filename != filename {
			continue
		}
		_, err := collection.UpdateField(id, field, value)
		return err
	}
	return fmt.Errorf("%w: no document named %s", services.ErrNotFound, filename)
}

func exportFormat(cfg *config.Config, opts *extractOptions) (string, error) {
	switch format := strings.ToLower(opts.format); format {
	case "":
		if cfg.Export.XLSX {
			return "xlsx", nil
		}
		return "csv", nil
	case "csv", "xlsx":
		return format, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", opts.format)
	}
}

// exportReports writes the completed reports to every configured destination. Nothing is
// exported when no document completed.
func exportReports(ctx context.Context, deps *Deps, cfg *config.Config, opts *extractOptions, docs []models.Document, storageClient *storage.Client) error {
	format, err := exportFormat(cfg, opts)
	if err != nil {
		return err
	}
	data, rows, err := services.RenderExport(format, docs)
	if err != nil {
		return fmt.Errorf("failed to render export: %w", err)
	}
	if rows == 0 {
		fmt.Fprintln(deps.Stderr, "No hay reportes completados para exportar.")
		return nil
	}
	name := services.ExportFilename(deps.Now(), format)
	logCtx := slog.With("exportFile", name, "rows", rows)

	dir := opts.outDir
	if dir == "" {
		dir = cfg.Export.Dir
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write export file: %w", err)
		}
		logCtx.Info("Export written.", "path", path)
		fmt.Fprintf(deps.Stderr, "Exportado: %s (%d reportes)\n", path, rows)
	}

	if opts.upload {
		if cfg.Export.Bucket == "" || storageClient == nil {
			return errors.New("--upload requires export.bucket in the configuration")
		}
		err := gcp.SaveToGCSAtomically(ctx, storageClient.Bucket(cfg.Export.Bucket), name, services.ExportContentType(format), data)
		switch {
		case errors.Is(err, gcp.ErrObjectExists):
			fmt.Fprintf(deps.Stderr, "Ya existe gs://%s/%s, no se sobrescribió.\n", cfg.Export.Bucket, name)
		case err != nil:
			return err
		default:
			logCtx.Info("Export uploaded.", "bucket", cfg.Export.Bucket)
		}
	}

	if opts.firestore {
		if cfg.Export.FirestoreCollection == "" {
			return errors.New("--firestore requires export.firestore_collection in the configuration")
		}
		client, err := deps.NewFirestore(ctx, cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		saved, err := gcp.SaveReports(ctx, client, cfg.Export.FirestoreCollection, docs)
		if err != nil {
			return err
		}
		logCtx.Info("Reports saved to Firestore.", "collection", cfg.Export.FirestoreCollection, "saved", saved)
	}
	return nil
}

func printSummary(w io.Writer, stats models.Stats, docs []models.Document) {
	fmt.Fprintf(w, "Total: %d  Completados: %d  Errores: %d  Confianza promedio: %.1f\n",
		stats.Total, stats.Completed, stats.Failed, stats.AverageConfidence)
	for _, d := range docs {
		if msg, ok := d.ErrorMessage(); ok {
			fmt.Fprintf(w, "  %s: %s\n", d.Filename, msg)
		}
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// progressPrinter rewrites a single status line as documents settle.
func progressPrinter(w io.Writer) services.Observer {
	return func(ev services.Event) {
		if ev.Type != services.EventProgress {
			return
		}
		fmt.Fprintf(w, "\rProcesando... %d/%d", ev.Progress.Settled, ev.Progress.Total)
		if ev.Progress.Settled == ev.Progress.Total {
			fmt.Fprintln(w)
		}
	}
}
