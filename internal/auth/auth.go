// Package auth issues and verifies API keys for the flowtriage HTTP API.
// Keys look like flowtriage_<prefix>_<secret>; only the prefix and a
// digest of the secret are kept in configuration.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/zeebo/blake3"
)

const (
	servicePrefix = "flowtriage"
	prefixLength  = 12
	secretBytes   = 32
)

var ErrInvalidKeyFormat = errors.New("invalid API key format")

// GenerateAPIKey returns a new display key together with the config
// entry ("<prefix>:<hex digest>") that authorizes it.
func GenerateAPIKey() (displayKey, entry string, err error) {
	prefixBytes := make([]byte, prefixLength)
	if _, err := rand.Read(prefixBytes); err != nil {
		return "", "", err
	}
	for i := range prefixBytes {
		prefixBytes[i] = alphanumeric[int(prefixBytes[i])%len(alphanumeric)]
	}
	prefix := string(prefixBytes)

	secretRaw := make([]byte, secretBytes)
	if _, err := rand.Read(secretRaw); err != nil {
		return "", "", err
	}
	secret := encodeBase62(secretRaw)

	displayKey = servicePrefix + "_" + prefix + "_" + secret
	entry = prefix + ":" + hex.EncodeToString(HashSecret(secret))
	return displayKey, entry, nil
}

func HashSecret(secret string) []byte {
	h := blake3.Sum256([]byte(secret))
	return h[:]
}

func ParseAPIKey(displayKey string) (prefix string, secret string, err error) {
	if !strings.HasPrefix(displayKey, servicePrefix+"_") {
		return "", "", ErrInvalidKeyFormat
	}
	rest := strings.TrimPrefix(displayKey, servicePrefix+"_")
	parts := strings.SplitN(rest, "_", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", ErrInvalidKeyFormat
	}
	if len(parts[0]) != prefixLength {
		return "", "", ErrInvalidKeyFormat
	}
	for _, c := range parts[0] {
		if !isAlphanumeric(c) {
			return "", "", ErrInvalidKeyFormat
		}
	}
	return parts[0], parts[1], nil
}

// Keyring holds the digests of every authorized key, indexed by prefix.
type Keyring struct {
	digests map[string][]byte
}

// NewKeyring parses "<prefix>:<hex digest>" entries.
func NewKeyring(entries []string) (*Keyring, error) {
	k := &Keyring{digests: make(map[string][]byte, len(entries))}
	for _, e := range entries {
		prefix, digest, ok := strings.Cut(strings.TrimSpace(e), ":")
		if !ok || len(prefix) != prefixLength {
			return nil, fmt.Errorf("api key entry %q: want <prefix>:<digest>", e)
		}
		sum, err := hex.DecodeString(digest)
		if err != nil || len(sum) != 32 {
			return nil, fmt.Errorf("api key entry %q: bad digest", e)
		}
		k.digests[prefix] = sum
	}
	return k, nil
}

// Enabled reports whether any key is configured.
func (k *Keyring) Enabled() bool { return k != nil && len(k.digests) > 0 }

// Verify reports whether displayKey matches a configured key.
func (k *Keyring) Verify(displayKey string) bool {
	if !k.Enabled() {
		return false
	}
	prefix, secret, err := ParseAPIKey(displayKey)
	if err != nil {
		return false
	}
	stored, ok := k.digests[prefix]
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare(HashSecret(secret), stored) == 1
}

var alphanumeric = []byte("abcdefghijklmnopqrstuvwxyz0123456789")

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

func encodeBase62(data []byte) string {
	num := new(big.Int).SetBytes(data)
	base := big.NewInt(62)
	mod := new(big.Int)
	var out []byte
	for num.Sign() > 0 {
		num.DivMod(num, base, mod)
		out = append(out, base62Alphabet[mod.Int64()])
	}
	for _, b := range data {
		if b != 0 {
			break
		}
		out = append(out, '0')
	}
	if len(out) == 0 {
		return "0"
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

func isAlphanumeric(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}
