package testutil

import (
	"devcat/internal/devcat"
	"devcat/internal/encryption"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() devcat.Encryptor {
	return encryption.NewTestEncryptor()
}
