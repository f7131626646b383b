package testutil

import (
	"imessage-undeleter/internal/vault"
)

// NewTestVault creates an in-memory archive vault.
func NewTestVault() *vault.MemoryVault {
	return vault.NewMemoryVault("test-vault")
}
