package sessions

import (
	"crypto/rand"
	"math/big"
)

// codeAlphabet omits easily-confused glyphs: I, L, O and the digits 0, 1.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// CodeLength is the length of a session join code.
const CodeLength = 6

// GenerateSessionCode returns a fresh random join code. Uniqueness is
// enforced by the store; callers retry on collision.
func GenerateSessionCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, CodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
