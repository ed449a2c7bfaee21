// File: ids/ids.go
// Package ids generates the process- and instance-unique identifiers used
// for nodes, ports, and services across the shared-memory boundary.
// License: Apache-2.0

package ids

import (
	"github.com/google/uuid"
)

// ID is a unique identifier, stringified as a UUID but cheap to compare
// and hash because it carries its own fixed-size array value.
type ID [16]byte

// New mints a fresh random ID.
func New() ID {
	return ID(uuid.New())
}

// String renders the canonical UUID textual form; used for filesystem
// and shared-memory object names (spec §6 namespaces).
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero value (never minted by New).
func (id ID) IsZero() bool {
	return id == ID{}
}

// Parse decodes a textual UUID back into an ID, e.g. when recovering a
// node ID from its registry filename.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, err
	}
	return ID(u), nil
}
