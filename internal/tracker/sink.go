package tracker

import (
	"context"
	"io"
)

// Sink is a delivery target for deletion records. Calls to a single sink are
// always sequential. A sink whose Initialize fails is excluded from the run
// and never sees Deliver or Finalize.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	Initialize(ctx context.Context) error
	Deliver(ctx context.Context, rec *DeletionRecord) error

	// Finalize flushes buffered output and releases resources.
	Finalize(ctx context.Context) error
}

// Vault stores archived deletion records as opaque objects keyed by name.
type Vault interface {
	// Put stores the object. size is the number of bytes that will be read from r.
	Put(key string, r io.Reader, size int64) error

	// Get writes the object stored under key to w.
	Get(key string, w io.Writer) error

	// List returns the keys that start with prefix, sorted.
	List(prefix string) ([]string, error)

	// ValidateSetup verifies that the vault is reachable and writable.
	ValidateSetup() error
}

// Encryptor seals archived records with a public key. Reading them back
// requires unlocking the private key with a passphrase.
type Encryptor interface {
	// Setup generates a key pair and protects the private key with passphrase.
	Setup(passphrase string) error

	// Encrypt encrypts r into w. No passphrase is required.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a session context.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory only.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
