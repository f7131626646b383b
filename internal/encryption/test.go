package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"imessage-undeleter/internal/tracker"
)

// sealedHeader marks records sealed by TestEncryptor.
var sealedHeader = []byte("UDTEST\x00\x01")

// TestEncryptor is a deterministic stand-in for AgeEncryptor. Encrypt
// prefixes a fixed header and Decrypt strips it, so archived output differs
// from the plaintext without any key material.
type TestEncryptor struct {
	passphrase string
	configured bool
}

var _ tracker.Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor returns an encryptor that is already configured with an
// empty passphrase.
func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{configured: true}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.passphrase = passphrase
	e.configured = true
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if !e.configured {
		return errors.New("encryptor not configured")
	}
	if _, err := w.Write(sealedHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

// Unlock accepts only the passphrase given to Setup.
func (e *TestEncryptor) Unlock(passphrase string) (tracker.DecryptionContext, error) {
	if passphrase != e.passphrase {
		return nil, ErrWrongPassphrase
	}
	return TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return e.configured
}

// TestDecryptionContext strips the header added by TestEncryptor.
type TestDecryptionContext struct{}

var _ tracker.DecryptionContext = TestDecryptionContext{}

func (TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(sealedHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if !bytes.Equal(header, sealedHeader) {
		return errors.New("not sealed by the test encryptor")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
