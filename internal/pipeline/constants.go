package pipeline

import "time"

// Defaults for extraction. Commands override them from configuration.
const (
	// DefaultModelName is the default Gemini model used for extraction.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultMaxAttempts bounds failed extraction attempts per item.
	DefaultMaxAttempts = 3

	// DefaultBackoff is the linear backoff unit between attempts.
	DefaultBackoff = 2 * time.Second

	// DefaultExtractTimeout bounds one call to the extraction engine.
	DefaultExtractTimeout = 2 * time.Minute

	pdfMIMEType = "application/pdf"
)
