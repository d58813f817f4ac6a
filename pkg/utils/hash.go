package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math"
	"math/big"
	"time"
)

func Hash(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

func HashString(value string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(value)))
}

// NewID returns a random 32 character identifier.
func NewID() (string, error) {
	number, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	if err != nil {
		return "", err
	}

	return HashString(fmt.Sprintf("%s%d", time.Now(), number))[:32], nil
}
