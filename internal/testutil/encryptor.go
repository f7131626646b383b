package testutil

import (
	"imessage-undeleter/internal/encryption"
	"imessage-undeleter/internal/tracker"
)

// NewTestEncryptor returns a configured encryptor that needs no keys.
func NewTestEncryptor() tracker.Encryptor {
	return encryption.NewTestEncryptor()
}
