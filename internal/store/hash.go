package store

import (
	"crypto/sha256"
	"encoding/hex"
)

func sha256Hex(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
