package types

import "errors"

// Run-level failures. These abort a run before any file is touched.
var (
	// ErrManifestUnavailable indicates the manifest could not be fetched.
	ErrManifestUnavailable = errors.New("manifest unavailable")

	// ErrManifestMalformed indicates the manifest document has the wrong shape.
	ErrManifestMalformed = errors.New("manifest malformed")

	// ErrInvalidRoot indicates the chosen directory is not an installation root.
	ErrInvalidRoot = errors.New("not a game installation root")
)

// Item-level failures. These are recorded against a path or package and the run continues.
var (
	// ErrIO indicates a local file could not be opened or read.
	ErrIO = errors.New("i/o error")

	// ErrDownloadFailed indicates a package could not be downloaded.
	// The installation tree is untouched.
	ErrDownloadFailed = errors.New("download failed")

	// ErrExtractionFailed indicates a package archive could not be applied.
	// The installation tree may be partially modified.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrRelocationFailed indicates an extracted file could not be moved to
	// its expected location. The file is left where it was extracted.
	ErrRelocationFailed = errors.New("relocation failed")
)

// ErrInvalidTransition is returned when a run is driven out of order.
var ErrInvalidTransition = errors.New("invalid run state transition")
