package gcp

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"

	"github.com/Lllllllleong/mr14capture/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string, opts ...option.ClientOption) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// ReportRecord is the Firestore shape of one exported report.
type ReportRecord struct {
	Filename        string                 `firestore:"filename"`
	BatchID         string                 `firestore:"batchId,omitempty"`
	ConfidenceScore int                    `firestore:"confidenceScore"`
	Data            models.ExtractedFields `firestore:"data"`
	ExportedAt      time.Time              `firestore:"exportedAt"`
}

// NewReportRecord builds the record for a completed document. It reports false for any other state.
func NewReportRecord(d models.Document, exportedAt time.Time) (ReportRecord, bool) {
	res, ok := d.Result()
	if !ok {
		return ReportRecord{}, false
	}
	return ReportRecord{
		Filename:        d.Filename,
		BatchID:         d.BatchID,
		ConfidenceScore: res.ConfidenceScore,
		Data:            res.Fields,
		ExportedAt:      exportedAt,
	}, true
}

// SaveReports writes every completed document to collection, keyed by document ID.
// Documents in any other state are skipped. It returns the number written.
func SaveReports(ctx context.Context, client *firestore.Client, collection string, docs []models.Document) (int, error) {
	now := time.Now()
	written := 0
	for _, d := range docs {
		record, ok := NewReportRecord(d, now)
		if !ok {
			continue
		}
		if _, err := client.Collection(collection).Doc(d.ID).Set(ctx, record); err != nil {
			return written, fmt.Errorf("failed to save report %s: %w", d.ID, err)
		}
		written++
	}
	return written, nil
}
