package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewLocalTag returns the client-side tag that identifies an annotation
// until the persistence layer assigns it an id.
func NewLocalTag() string {
	return "t_" + uuid.NewString()
}
