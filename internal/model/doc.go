// Package model defines the domain entities the sync core moves between the
// local cache and the remote document store: players, matches, and per-round
// game records.
//
// Every entity has exactly one serialization, its JSON tags. The same codec
// is used for cache files, pending-operation payloads, and remote documents,
// so a value round-trips unchanged through all three. Optional fields are
// pointers with omitempty.
//
// Entities created while offline receive a client-generated ID from
// NewLocalID. That ID is reused verbatim as the remote document key when the
// entity is eventually uploaded; it is never regenerated, which is what makes
// retried creates idempotent.
package model
