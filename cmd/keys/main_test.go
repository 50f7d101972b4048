package keys

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPrintGeneratesVerifiableHash(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, ""))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	token := strings.TrimSpace(strings.TrimPrefix(lines[0], "token:"))
	hash := strings.TrimSpace(strings.TrimPrefix(lines[1], "hash:"))

	assert.Len(t, token, 64)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)))
}
