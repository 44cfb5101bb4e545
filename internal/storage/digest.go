package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/concentra-io/concentra/internal/util"
)

// SHA256 computes the lowercase hex digest of the file at path, used for
// the audit trail (the raw upload's fingerprint on the "ingest" lineage step).
func SHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", util.WrapKindError(util.KindNotFound, err, "failed to open file for digest")
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", util.WrapError(err, "failed to digest file")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
