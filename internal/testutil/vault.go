package testutil

import (
	"devcat/internal/devcat"
	"devcat/internal/vault"
)

// NewTestVault creates a new in-memory vault for testing.
func NewTestVault() devcat.Vault {
	return vault.NewMemoryVault("test-vault")
}
