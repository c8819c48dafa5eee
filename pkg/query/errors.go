package query

import "errors"

var (
	// Construction errors

	// ErrNotCallable is returned by OrFail when it is given a nil handler.
	ErrNotCallable = errors.New("must be a callback function")
	// ErrMissingIdentifier if the store acknowledged an insert without reporting the new document id.
	ErrMissingIdentifier = errors.New("missing identifier on inserted document")

	// Acknowledgment errors

	ErrInsertFailed     = errors.New("Failed to insert document")
	ErrInsertManyFailed = errors.New("Failed to insert documents")
	ErrUpdateFailed     = errors.New(`Failed to run "update" query`)
	ErrUpdateOneFailed  = errors.New("Failed to update the document")
	ErrDeleteFailed     = errors.New("Failed to delete documents")
)
