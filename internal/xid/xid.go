package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// SalesNumber returns a short opaque receipt number, e.g. "S-7F3A9C01".
// Uniqueness is enforced by the store, not by construction.
func SalesNumber() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("S-%d", time.Now().UnixNano()%100000000)
	}
	return "S-" + strings.ToUpper(hex.EncodeToString(buf))
}
