package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"strings"
)

const (
	suffixBytes = 2
	secretBytes = 32
)

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func newPrefix(words []string) (string, error) {
	i, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		return "", err
	}
	suffix, err := randomHex(suffixBytes)
	if err != nil {
		return "", err
	}
	return words[i.Int64()] + "_" + suffix, nil
}

// Split separates raw key material into its public prefix and secret at the
// last underscore. It reports false for anything that is not
// `<word>_<4 hex>_<64 hex>`.
func Split(raw string) (prefix, secret string, ok bool) {
	i := strings.LastIndexByte(raw, '_')
	if i <= 0 || i == len(raw)-1 {
		return "", "", false
	}
	prefix, secret = raw[:i], raw[i+1:]

	word, suffix, found := strings.Cut(prefix, "_")
	if !found || word == "" || !isWord(word) {
		return "", "", false
	}
	if len(suffix) != 2*suffixBytes || !isHex(suffix) {
		return "", "", false
	}
	if len(secret) != 2*secretBytes || !isHex(secret) {
		return "", "", false
	}
	return prefix, secret, true
}

func isHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
