package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentStatus(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  Status
	}{
		{"zero value", nil, StatusPending},
		{"pending", Pending{}, StatusPending},
		{"processing", Processing{}, StatusProcessing},
		{"completed", Completed{ConfidenceScore: 8}, StatusCompleted},
		{"failed", Failed{Message: "x"}, StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Document{State: tt.state}.Status())
		})
	}
}

func TestWithStateReturnsCopy(t *testing.T) {
	created := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	later := created.Add(time.Minute)
	d := Document{ID: "a", State: Pending{}, CreatedAt: created, UpdatedAt: created}

	next := d.WithState(Processing{}, later)

	assert.Equal(t, StatusPending, d.Status())
	assert.Equal(t, StatusProcessing, next.Status())
	assert.Equal(t, created, next.CreatedAt)
	assert.Equal(t, later, next.UpdatedAt)
}

func TestResultAndErrorMessage(t *testing.T) {
	done := Document{State: Completed{Fields: ExtractedFields{Folio: "1"}, ConfidenceScore: 9}}
	res, ok := done.Result()
	require.True(t, ok)
	assert.Equal(t, 9, res.ConfidenceScore)
	_, ok = done.ErrorMessage()
	assert.False(t, ok)

	failed := Document{State: Failed{Message: "CUOTA EXCEDIDA"}}
	msg, ok := failed.ErrorMessage()
	require.True(t, ok)
	assert.Equal(t, "CUOTA EXCEDIDA", msg)
	_, ok = failed.Result()
	assert.False(t, ok)
}

func TestDocumentMarshalJSON(t *testing.T) {
	ts := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	t.Run("completed carries data", func(t *testing.T) {
		d := Document{
			ID:             "doc-1",
			Filename:       "scan.pdf",
			EncodedContent: "c2VjcmV0",
			State:          Completed{Fields: ExtractedFields{Inmueble: "Torre A"}, ConfidenceScore: 7},
			CreatedAt:      ts,
			UpdatedAt:      ts,
		}
		b, err := json.Marshal(d)
		require.NoError(t, err)

		var out map[string]any
		require.NoError(t, json.Unmarshal(b, &out))
		assert.Equal(t, "completed", out["status"])
		assert.EqualValues(t, 7, out["confidenceScore"])
		assert.Equal(t, "Torre A", out["data"].(map[string]any)["inmueble"])
		assert.NotContains(t, string(b), "c2VjcmV0")
		assert.NotContains(t, out, "errorMsg")
	})

	t.Run("failed carries message and kind", func(t *testing.T) {
		d := Document{
			ID:    "doc-2",
			State: Failed{Failure: Failure{Kind: KindQuota, Err: errors.New("429")}, Message: "CUOTA"},
		}
		b, err := json.Marshal(d)
		require.NoError(t, err)

		var out map[string]any
		require.NoError(t, json.Unmarshal(b, &out))
		assert.Equal(t, "error", out["status"])
		assert.Equal(t, "CUOTA", out["errorMsg"])
		assert.Equal(t, "quota", out["errorKind"])
		assert.NotContains(t, out, "data")
	})
}
