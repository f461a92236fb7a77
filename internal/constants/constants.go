package constants

import "time"

const (
	SubmissionTimeout  = 60 * time.Second
	ExternalAPITimeout = 15 * time.Second
	DatabaseTimeout    = 5 * time.Second
	DeleteTimeout      = 10 * time.Second
)

const (
	// MaxAttachments caps how many images of one submission are processed;
	// extras are ignored rather than rejected.
	MaxAttachments = 4

	// OCRMaxRetries and OCRRetryBase shape the exponential backoff applied
	// to transient OCR engine failures.
	OCRMaxRetries = 3
	OCRRetryBase  = 500 * time.Millisecond
)

const (
	// MinNameSimilarity is the lowest normalized edit-distance similarity
	// (0-1) at which a fuzzy rank-name hit is accepted.
	MinNameSimilarity = 0.72

	// LevelPathStrength is the match strength assigned when a numeric level
	// is read directly from the text.
	LevelPathStrength = 100.0

	// Confidence blends match strength with the OCR engine's own estimate.
	ConfidenceMatchWeight = 0.6
	ConfidenceOCRWeight   = 0.4
)

const (
	DefaultNoticeTTL = 45 * time.Second
	BulkCleanupLimit = 100
	ShutdownTimeout  = 5 * time.Second
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	HistoryQueryLimit = 50
)
