package room

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// randomID draws length characters uniformly from alphabet using crypto/rand,
// so ids cannot be predicted or enumerated.
func randomID(length int, alphabet string) (string, error) {
	n := big.NewInt(int64(len(alphabet)))
	out := make([]byte, length)
	for i := range out {
		k, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", fmt.Errorf("failed to read random id: %w", err)
		}
		out[i] = alphabet[k.Int64()]
	}
	return string(out), nil
}
