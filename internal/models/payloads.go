package models

// These structs describe the inputs handed to the pipeline and the summaries it returns.

// File is one uploaded file as accepted from the caller.
type File struct {
	Name     string
	MIMEType string
	Content  []byte
	// LoadErr is set when the content could not be read. The document then fails to encode.
	LoadErr error
}

// EncodedDocument is the form a File takes on its way to the recognizer.
type EncodedDocument struct {
	MIMEType string
	// Data is the standard base64 encoding of the file content.
	Data string
	// PageCount is set for PDF documents.
	PageCount int
}

// BatchResult summarizes one Process call.
type BatchResult struct {
	BatchID     string   `json:"batchId"`
	DocumentIDs []string `json:"documentIds"`
	Total       int      `json:"total"`
	Settled     int      `json:"settled"`
	Completed   int      `json:"completed"`
	Failed      int      `json:"failed"`
}

// Stats is the collection summary shown next to the results.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	// AverageConfidence is the mean score of completed documents rounded to one decimal.
	AverageConfidence float64 `json:"averageConfidence"`
}
