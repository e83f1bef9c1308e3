package main

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/mr14capture/internal/gcp"
	"github.com/Lllllllleong/mr14capture/internal/models"
)

// maxConcurrentLoads bounds parallel reads of input files. Extraction itself stays sequential.
const maxConcurrentLoads = 4

// loadInputs reads local paths and gs:// URIs concurrently, keeping the argument order. An input
// that cannot be read is kept with LoadErr set so it settles as a failed document.
func loadInputs(ctx context.Context, inputs []string, client *storage.Client) ([]models.File, error) {
	files := make([]models.File, len(inputs))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentLoads)

	for i, in := range inputs {
		eg.Go(func() error {
			f, err := loadInput(gctx, in, client)
			if err != nil {
				slog.Warn("Failed to load input.", "input", in, "error", err)
				name := inputName(in)
				f = models.File{Name: name, MIMEType: detectType(name, "", nil), LoadErr: err}
			}
			files[i] = f
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to load inputs: %w", err)
	}
	return files, nil
}

// inputName is the file name shown for an input path or URI.
func inputName(in string) string {
	if gcp.IsGCSURI(in) {
		if _, object, err := gcp.ParseGCSURI(in); err == nil {
			return path.Base(object)
		}
		return in
	}
	return filepath.Base(in)
}

func loadInput(ctx context.Context, in string, client *storage.Client) (models.File, error) {
	if gcp.IsGCSURI(in) {
		if client == nil {
			return models.File{}, fmt.Errorf("no storage client available for %s", in)
		}
		data, contentType, err := gcp.ReadObject(ctx, client, in)
		if err != nil {
			return models.File{}, err
		}
		name := inputName(in)
		return models.File{Name: name, MIMEType: detectType(name, contentType, data), Content: data}, nil
	}

	data, err := os.ReadFile(in)
	if err != nil {
		return models.File{}, fmt.Errorf("failed to read file: %w", err)
	}
	name := inputName(in)
	slog.Debug("Loaded input file.", "filename", name, "bytes", len(data))
	return models.File{Name: name, MIMEType: detectType(name, "", data), Content: data}, nil
}

// detectType prefers a declared content type, then the file extension, then content sniffing.
func detectType(name, declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

func hasGCSInputs(inputs []string) bool {
	for _, in := range inputs {
		if gcp.IsGCSURI(in) {
			return true
		}
	}
	return false
}
