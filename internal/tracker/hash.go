package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

var emptyContentHash = HashContent("")

// HashContent returns the SHA-256 of the item text as a lowercase hex string.
func HashContent(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// HashAttachment fingerprints attachment metadata as "filename:size:mtime".
// Two files with identical metadata hash equal.
func HashAttachment(filename string, size int64, modifiedAt time.Time) string {
	var mtime int64
	if !modifiedAt.IsZero() {
		mtime = modifiedAt.Unix()
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d", filename, size, mtime)))
	return hex.EncodeToString(h[:])
}
