package domain

import "errors"

// Sentinel errors for domain operations
var (
	// ErrNotConfigured indicates required endpoints or the device serial are missing
	ErrNotConfigured = errors.New("scenario source is not configured")

	// ErrSourceUnreachable indicates the remote scenario source could not be reached
	ErrSourceUnreachable = errors.New("scenario source is unreachable")

	// ErrInvalidURL indicates a scenario item carries an unparsable source URL
	ErrInvalidURL = errors.New("invalid source url")

	// ErrManifestNotFound indicates an extracted package holds no .m3u8 manifest
	ErrManifestNotFound = errors.New("no m3u8 manifest in package")

	// ErrPathEscapesRoot indicates a path resolves outside of the cache root
	ErrPathEscapesRoot = errors.New("path escapes cache root")

	// ErrDownloadStatus indicates the origin answered a download with an error status
	ErrDownloadStatus = errors.New("download rejected by origin")
)
