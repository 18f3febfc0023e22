// Package ids generates the opaque string identifiers used for every
// stored entity except branches (which are keyed by name): facts,
// observations, relations, conversations, messages, tasks and snapshots all
// get one of these on creation.
package ids

import "github.com/google/uuid"

// New returns a fresh opaque identifier.
func New() string {
	return uuid.NewString()
}

// Branch-restored snapshot names embed a timestamp suffix rather than a
// random ID; see snapshot.Manager.Restore.
