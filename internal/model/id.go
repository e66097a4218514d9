package model

import "github.com/oklog/ulid/v2"

// catalogScheme prefixes every catalog entry URI.
const catalogScheme = "catalog://"

// NewID generates a new ULID string for use as an entity identifier.
func NewID() string {
	return ulid.Make().String()
}

// NewCatalogURI returns a fresh, globally unique catalog entry URI.
func NewCatalogURI() string {
	return catalogScheme + NewID()
}
