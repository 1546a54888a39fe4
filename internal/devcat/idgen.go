package devcat

import "github.com/google/uuid"

// IDGenerator produces file keys. Keys must never repeat; the unique
// constraint on files.key is the final check.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }
