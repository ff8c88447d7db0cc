package core

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewToken returns the identifying token stamped into a command record at
// dispatch. Falls back to random hex if the UUID source fails.
func NewToken() string {
	id, err := uuid.NewV7()
	if err == nil {
		return id.String()
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}
	return fmt.Sprintf("%d", time.Now().UTC().UnixNano())
}
