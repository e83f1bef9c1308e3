package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/text/unicode/norm"

	"github.com/Lllllllleong/mr14capture/internal/models"
)

// ErrMalformedOutput means the recognizer's text did not hold a usable structured payload.
var ErrMalformedOutput = errors.New("malformed recognizer output")

const (
	// DefaultConfidenceScore is used when the payload has no valid score.
	DefaultConfidenceScore = 5
	MaxConfidenceScore     = 10
)

// ExtractJSON drops code fences and keeps the text between the first '{' and the last '}'.
// Text without such a pair is returned with only the fences removed.
func ExtractJSON(text string) string {
	clean := strings.ReplaceAll(text, "```json", "")
	clean = strings.ReplaceAll(clean, "```", "")
	clean = strings.TrimSpace(clean)

	first := strings.Index(clean, "{")
	last := strings.LastIndex(clean, "}")
	if first >= 0 && last > first {
		return clean[first : last+1]
	}
	return clean
}

const payloadSchemaURL = "mr14-payload.json"

// payloadSchema accepts an object whose form fields are scalars or flat lists of scalars.
// Nested objects in a field are rejected.
var payloadSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	field := map[string]any{
		"type":  []string{"string", "number", "null", "array"},
		"items": map[string]any{"type": []string{"string", "number"}},
	}
	props := make(map[string]any, len(models.FieldNames))
	for _, name := range models.FieldNames {
		props[name] = field
	}
	doc := map[string]any{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"type":       "object",
		"properties": props,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(payloadSchemaURL, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add payload schema: %w", err)
	}
	return compiler.Compile(payloadSchemaURL)
})

// ParsePayload turns raw recognizer text into fields and a confidence score. Fenced and
// unfenced responses parse identically. Failures wrap ErrMalformedOutput.
func ParsePayload(text string) (models.ExtractedFields, int, error) {
	raw := ExtractJSON(text)

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return models.ExtractedFields{}, 0, fmt.Errorf("%w: invalid json: %v", ErrMalformedOutput, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return models.ExtractedFields{}, 0, fmt.Errorf("%w: trailing data after payload", ErrMalformedOutput)
	}

	schema, err := payloadSchema()
	if err != nil {
		return models.ExtractedFields{}, 0, fmt.Errorf("failed to compile payload schema: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return models.ExtractedFields{}, 0, fmt.Errorf("%w: schema validation failed: %v", ErrMalformedOutput, err)
	}

	obj := v.(map[string]any)
	values := make(map[string]string, len(models.FieldNames))
	for _, name := range models.FieldNames {
		values[name] = fieldText(obj[name])
	}
	return models.FieldsFromMap(values), confidenceScore(obj["confidenceScore"]), nil
}

// fieldText renders a payload value as the field's string. Lists become space-joined labels.
func fieldText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return norm.NFC.String(strings.TrimSpace(t))
	case json.Number:
		return t.String()
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := fieldText(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// confidenceScore reads the score: absent, non-numeric or below 1 yields the default,
// anything above the scale is clamped.
func confidenceScore(v any) int {
	var f float64
	switch t := v.(type) {
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return DefaultConfidenceScore
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return DefaultConfidenceScore
		}
		f = parsed
	default:
		return DefaultConfidenceScore
	}
	if math.IsNaN(f) {
		return DefaultConfidenceScore
	}
	rounded := math.Round(f)
	switch {
	case rounded < 1:
		return DefaultConfidenceScore
	case rounded > MaxConfidenceScore:
		return MaxConfidenceScore
	}
	return int(rounded)
}
