package services

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/mr14capture/internal/models"
)

// ErrDecode marks a local, non-retryable failure to turn a file into its encoded form.
var ErrDecode = errors.New("failed to decode file")

const mimePDF = "application/pdf"

var disableConfigDir sync.Once

// Encoder converts uploaded files into base64 payloads, rejecting content the recognizer
// cannot read.
type Encoder struct {
	pdfConfig *model.Configuration
}

// NewEncoder creates an Encoder that validates PDFs in relaxed mode.
func NewEncoder() *Encoder {
	// pdfcpu would otherwise create a config directory in the user's home.
	disableConfigDir.Do(api.DisableConfigDir)

	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return &Encoder{pdfConfig: cfg}
}

// Encode validates f and returns its base64 form. Every error wraps ErrDecode.
func (e *Encoder) Encode(f models.File) (models.EncodedDocument, error) {
	if f.LoadErr != nil {
		return models.EncodedDocument{}, fmt.Errorf("%w: %s could not be read: %v", ErrDecode, f.Name, f.LoadErr)
	}
	if len(f.Content) == 0 {
		return models.EncodedDocument{}, fmt.Errorf("%w: %s is empty", ErrDecode, f.Name)
	}

	mimeType := MediaType(f.MIMEType)
	if mimeType == "" {
		mimeType = MediaType(http.DetectContentType(f.Content))
	}

	doc := models.EncodedDocument{MIMEType: mimeType}
	switch {
	case mimeType == mimePDF:
		pages, err := e.pdfPageCount(f.Content)
		if err != nil {
			return models.EncodedDocument{}, fmt.Errorf("%w: %s is not a readable PDF: %v", ErrDecode, f.Name, err)
		}
		doc.PageCount = pages
	case strings.HasPrefix(mimeType, "image/"):
		if sniffed := http.DetectContentType(f.Content); strings.HasPrefix(sniffed, "text/") {
			return models.EncodedDocument{}, fmt.Errorf("%w: %s is labelled %s but contains %s", ErrDecode, f.Name, mimeType, sniffed)
		}
	default:
		return models.EncodedDocument{}, fmt.Errorf("%w: %s has unsupported type %q", ErrDecode, f.Name, mimeType)
	}

	doc.Data = base64.StdEncoding.EncodeToString(f.Content)
	return doc, nil
}

func (e *Encoder) pdfPageCount(content []byte) (int, error) {
	if err := api.Validate(bytes.NewReader(content), e.pdfConfig); err != nil {
		return 0, err
	}
	return api.PageCount(bytes.NewReader(content), e.pdfConfig)
}

// MediaType returns the lower-cased media type of a Content-Type value without parameters.
func MediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

// StripDataURL removes a "data:<type>;base64," prefix, if any.
func StripDataURL(encoded string) string {
	if !strings.HasPrefix(encoded, "data:") {
		return encoded
	}
	if _, data, ok := strings.Cut(encoded, ","); ok {
		return data
	}
	return encoded
}

// IsSupportedType reports whether the recognizer accepts the media type.
func IsSupportedType(contentType string) bool {
	mt := MediaType(contentType)
	return mt == mimePDF || strings.HasPrefix(mt, "image/")
}
