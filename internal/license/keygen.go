package license

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"keywarden/pkg/contracts/domain"
)

// Generated keys look like S-9F86D081884C7D659A2FEAA0: the tier code, a
// dash, and 12 random bytes hex-encoded upper-case.
const keyRandomBytes = 12

var keyPattern = regexp.MustCompile(`^([SGA])-([0-9A-F]{24})$`)

// GenerateKey produces a fresh random key for the tier. Uniqueness is not
// guaranteed here; the store's unique-key constraint catches the
// astronomically rare collision and the manager retries once.
func GenerateKey(tier domain.Tier) (string, error) {
	if !tier.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, string(tier))
	}
	buf := make([]byte, keyRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("license: read random source: %w", err)
	}
	return string(tier) + "-" + strings.ToUpper(hex.EncodeToString(buf)), nil
}

// ParseKey extracts the tier from a generated-format key. Keys provisioned
// through activation may have any shape and will not parse.
func ParseKey(key string) (domain.Tier, error) {
	m := keyPattern.FindStringSubmatch(key)
	if m == nil {
		return "", fmt.Errorf("license: malformed key")
	}
	return domain.Tier(m[1]), nil
}

// WellFormed reports whether key matches the generated format.
func WellFormed(key string) bool {
	return keyPattern.MatchString(key)
}
