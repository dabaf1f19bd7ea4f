// Package config loads mender settings from the config file, MENDER_
// environment variables and command-line flags.
package config

// Default configuration values.
const (
	// DefaultManifestURL is the published digest manifest.
	DefaultManifestURL = "https://raw.githubusercontent.com/Leuansin/Leuans-sims4-toolkit/refs/heads/main/SHA256-Getter/leuan_steam_database.json"

	// DefaultManifestKey is the manifest key holding the entries.
	DefaultManifestKey = "files"

	// DefaultPackagesURL is the base URL repair packages are published under.
	DefaultPackagesURL = "https://github.com/Leuansin/leuan-dlcs/releases/download"

	// DefaultOptionalRoot is the top-level folder of the optional track.
	DefaultOptionalRoot = "Game-Cracked"

	// DefaultRetentionDays is how long history entries are kept.
	DefaultRetentionDays = 30

	// DefaultLogMaxSize is the log size that triggers rotation.
	DefaultLogMaxSize = "10MB"

	// DefaultLogMaxBackups is how many rotated logs are kept.
	DefaultLogMaxBackups = 3
)

// DefaultExclusions lists top-level folders skipped by default.
var DefaultExclusions = []string{"__Installer"}

// DefaultUnitPrefixes are the expansion-unit folder prefixes.
var DefaultUnitPrefixes = []string{"EP", "GP", "SP", "FP"}
