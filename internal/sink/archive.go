package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"imessage-undeleter/internal/tracker"
)

// ArchivePrefix is the key prefix of every archived record.
const ArchivePrefix = "deletions/"

// ArchiveKey returns the vault key for a journal entry. Ids are zero padded
// so keys list in journal order.
func ArchiveKey(journalID int64, encrypted bool) string {
	key := fmt.Sprintf("%s%012d.json", ArchivePrefix, journalID)
	if encrypted {
		key += ".age"
	}
	return key
}

// ArchiveSink stores each record as an object in a vault, sealed with the
// encryptor when one is set.
type ArchiveSink struct {
	name      string
	vault     tracker.Vault
	encryptor tracker.Encryptor
}

var _ tracker.Sink = (*ArchiveSink)(nil)

// NewArchiveSink creates an archive sink. encryptor may be nil to store
// plaintext JSON.
func NewArchiveSink(name string, v tracker.Vault, encryptor tracker.Encryptor) *ArchiveSink {
	return &ArchiveSink{name: name, vault: v, encryptor: encryptor}
}

func (s *ArchiveSink) Name() string { return s.name }

func (s *ArchiveSink) Initialize(ctx context.Context) error {
	if s.encryptor != nil && !s.encryptor.IsConfigured() {
		return errors.New("encryption keys not found, run 'undeleter keys init'")
	}
	if err := s.vault.ValidateSetup(); err != nil {
		return fmt.Errorf("validating vault: %w", err)
	}
	return nil
}

func (s *ArchiveSink) Deliver(ctx context.Context, rec *tracker.DeletionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return deliverError(s.name, rec, err)
	}

	if s.encryptor != nil {
		var sealed bytes.Buffer
		if err := s.encryptor.Encrypt(bytes.NewReader(data), &sealed); err != nil {
			return deliverError(s.name, rec, fmt.Errorf("encrypting: %w", err))
		}
		data = sealed.Bytes()
	}

	key := ArchiveKey(rec.JournalID, s.encryptor != nil)
	if err := s.vault.Put(key, bytes.NewReader(data), int64(len(data))); err != nil {
		return deliverError(s.name, rec, fmt.Errorf("storing %s: %w", key, err))
	}
	return nil
}

func (s *ArchiveSink) Finalize(ctx context.Context) error { return nil }

// ReadArchived loads the record stored under key. dc is required for
// encrypted keys and ignored otherwise.
func ReadArchived(v tracker.Vault, key string, dc tracker.DecryptionContext) (*tracker.DeletionRecord, error) {
	var raw bytes.Buffer
	if err := v.Get(key, &raw); err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return DecodeArchived(raw.Bytes(), strings.HasSuffix(key, ".age"), dc)
}

// DecodeArchived decodes one archived record, decrypting it first when sealed.
func DecodeArchived(data []byte, sealed bool, dc tracker.DecryptionContext) (*tracker.DeletionRecord, error) {
	if sealed {
		if dc == nil {
			return nil, errors.New("record is encrypted and no key was unlocked")
		}
		var plain bytes.Buffer
		if err := dc.Decrypt(bytes.NewReader(data), &plain); err != nil {
			return nil, fmt.Errorf("decrypting record: %w", err)
		}
		data = plain.Bytes()
	}

	var rec tracker.DeletionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return &rec, nil
}
