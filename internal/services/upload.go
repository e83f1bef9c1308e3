package services

import (
	"log/slog"

	"github.com/Lllllllleong/mr14capture/internal/models"
)

// FilterUploads keeps images and PDFs, in order, up to max files. It returns the accepted files
// and the names of those left out.
func FilterUploads(files []models.File, max int) ([]models.File, []string) {
	var accepted []models.File
	var rejected []string
	for _, f := range files {
		if !IsSupportedType(f.MIMEType) {
			slog.Warn("Skipping unsupported file.", "filename", f.Name, "mimeType", f.MIMEType)
			rejected = append(rejected, f.Name)
			continue
		}
		accepted = append(accepted, f)
	}

	if max > 0 && len(accepted) > max {
		slog.Warn("Too many files selected, keeping the first ones.", "selected", len(accepted), "max", max)
		for _, f := range accepted[max:] {
			rejected = append(rejected, f.Name)
		}
		accepted = accepted[:max]
	}
	return accepted, rejected
}
