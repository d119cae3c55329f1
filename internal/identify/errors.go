package identify

import "errors"

var (
	// Caller mistakes, returned before any I/O.
	ErrInvalidImageCount  = errors.New("image count must be between 1 and 5")
	ErrOrganCountMismatch = errors.New("organ count must be 1 or match the image count")
	ErrInvalidOrganValue  = errors.New("invalid organ value")

	// Infrastructure failures. Retry policy belongs to the collaborator
	// clients, not here.
	ErrUploadFailed    = errors.New("image upload failed")
	ErrExternalService = errors.New("identification service failed")

	// ErrPersistenceFailed means the external call succeeded but the
	// result could not be stored. Uploaded blobs are kept.
	ErrPersistenceFailed = errors.New("failed to persist identification")
)
