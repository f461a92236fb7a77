package domain

import "errors"

// Collaborator failure categories. Business rejections are Outcome values,
// never errors; these cover the external boundaries only.
var (
	// ErrOCRFailure wraps any OCR engine failure for one attachment.
	ErrOCRFailure = errors.New("ocr engine failure")

	// ErrStoreUnavailable wraps verification store failures.
	ErrStoreUnavailable = errors.New("verification store unavailable")

	// ErrDeliveryFailed means a notification could not be delivered, e.g.
	// the user blocks direct messages. Non-fatal to the pipeline.
	ErrDeliveryFailed = errors.New("notification delivery failed")

	// ErrMessageNotFound means a deletion target no longer exists; the
	// deletion is treated as already satisfied.
	ErrMessageNotFound = errors.New("message not found")

	// ErrAllAttachmentsFailed means every attachment in a submission hit a
	// collaborator failure, so no classification was possible at all.
	ErrAllAttachmentsFailed = errors.New("all attachments failed processing")
)
