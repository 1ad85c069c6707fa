package crs

import "github.com/google/uuid"

// newID returns a UUIDv7. Ids from one process sort in creation order even
// when timestamps collide, which the LATEST tie-break relies on.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
