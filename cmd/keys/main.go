// Package keys produces the bcrypt hashes configured as ADMIN_TOKEN_HASH
// and SCHEDULER_TOKEN_HASH. Tokens themselves are never stored.
package keys

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"ltexecutor/src/auth"
)

// NewToken returns a random 32-byte token, hex encoded.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Print writes token and its hash to w. An empty token generates one.
func Print(w io.Writer, token string) error {
	if token == "" {
		var err error
		if token, err = NewToken(); err != nil {
			return err
		}
	}
	hash, err := auth.HashToken(token)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "token: %s\nhash:  %s\n", token, hash)
	return err
}
