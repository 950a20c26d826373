// Package directory manages the device/group directory document.
//
// The directory is a JSON file mapping logical light identifiers to
// gateway MAC addresses and DALI driver ids, grouping them into named
// lighting groups, and carrying a small settings block (supported and
// active groups).
//
// # Document layout
//
//	{
//	  "version": "1.0",
//	  "groups":  { "G1": { "name": "...", "devices": ["DALLA1", ...] } },
//	  "devices": { "DALLA1": { "mac": "E4:...", "driver_id": 1, ... } },
//	  "settings": { "active_groups": ["G1"], ... }
//	}
//
// A missing file is not an error: a default directory is synthesised
// and persisted so a fresh install boots into a working state. A file
// that cannot be read or parsed is replaced in memory by the default
// document, a missing section by an empty one; load problems are
// logged, never fatal. A group referencing an unknown device is a
// warning, not a failure.
//
// # Hot reload
//
// ReloadIfChanged compares the file's modification time against the
// last load and re-reads the document when it moved forward. The whole
// in-memory table is swapped atomically under the write lock, so
// readers never observe a half-applied edit.
//
// All exported methods are safe for concurrent use.
package directory
