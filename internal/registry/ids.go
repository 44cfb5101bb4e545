package registry

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"

	"github.com/concentra-io/concentra/internal/util"
)

// idPattern is the canonical shape every dataset identifier must match
// before it is ever used to touch the filesystem.
var idPattern = regexp.MustCompile(`^ds_[0-9a-f]{12}$`)

// ValidID reports whether id is a well-formed dataset identifier.
func ValidID(id string) bool { return idPattern.MatchString(id) }

const maxIDAllocationAttempts = 8

func newCandidateID() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", util.WrapError(err, "failed to generate dataset id")
	}
	return "ds_" + hex.EncodeToString(buf), nil
}
