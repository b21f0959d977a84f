package builder

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Options tunes the builder's serialization behavior. The zero value is
// not useful; start from DefaultOptions.
type Options struct {
	// MetadataVersion is the version string stored in the BSJB metadata
	// header.
	MetadataVersion string `toml:"metadata_version"`

	// TablesMajorVersion and TablesMinorVersion are the tables-stream
	// header version pair. ECMA-335 pins these at 2.0.
	TablesMajorVersion byte `toml:"tables_major_version"`
	TablesMinorVersion byte `toml:"tables_minor_version"`

	// DeterministicMvid derives the module's MVID from its name instead
	// of generating a random one, for reproducible builds and golden
	// tests. Ignored when the source module carries a nonzero MVID.
	DeterministicMvid bool `toml:"deterministic_mvid"`

	// ForceWideHeaps pretends every heap exceeded 2^16-1 bytes, forcing
	// 4-byte heap-index columns. Exists to exercise the width-promotion
	// code paths without interning 64 KiB of strings.
	ForceWideHeaps bool `toml:"force_wide_heaps"`

	// StrictPreferredRIDs turns a preferred-RID collision into a
	// DuplicateRID error instead of silently appending at the next free
	// slot.
	StrictPreferredRIDs bool `toml:"strict_preferred_rids"`
}

// DefaultOptions returns the options a standard single-file assembly
// build wants.
func DefaultOptions() Options {
	return Options{
		MetadataVersion:    "v4.0.30319",
		TablesMajorVersion: 2,
		TablesMinorVersion: 0,
	}
}

// LoadOptions reads a TOML options file, layered over DefaultOptions.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	if _, err := toml.DecodeFile(path, &opts); err != nil {
		return Options{}, fmt.Errorf("builder: loading options from %s: %w", path, err)
	}
	return opts, nil
}
