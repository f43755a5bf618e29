package models

import "github.com/google/uuid"

// ensureID fills a zero primary key with a time-ordered UUIDv7 so rows sort
// by insertion when listed by id.
func ensureID(id *uuid.UUID) error {
	if *id != uuid.Nil {
		return nil
	}
	v, err := uuid.NewV7()
	if err != nil {
		return err
	}
	*id = v
	return nil
}
