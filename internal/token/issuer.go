// Package token generates batches of single-use enrolment secrets.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/openlms/tokenenrol/internal/model"
	"github.com/openlms/tokenenrol/internal/store"
)

const (
	// MinAmount and MaxAmount bound one generation batch. Callers validate
	// the requested amount before reaching the issuer.
	MinAmount = 1
	MaxAmount = 100

	// DefaultLength is the recommended secret length in hex characters.
	DefaultLength = 6
)

type Issuer struct {
	tokens *store.TokenStore
}

func NewIssuer(tokens *store.TokenStore) *Issuer {
	return &Issuer{tokens: tokens}
}

// Generate creates count tokens for the instance, each with a fresh random
// secret of the given hex length. Odd lengths round down; lengths below 2
// are raised to 2. Secrets are not checked for global uniqueness: at the
// recommended lengths the collision probability is negligible, and redemption
// looks tokens up per instance anyway.
func (i *Issuer) Generate(instanceID int64, count, length int) ([]model.Token, error) {
	length = length / 2 * 2
	if length < 2 {
		length = 2
	}

	tokens := make([]model.Token, 0, count)
	for n := 0; n < count; n++ {
		secret, err := newSecret(length)
		if err != nil {
			return nil, err
		}
		tok, err := i.tokens.Create(instanceID, secret)
		if err != nil {
			return nil, fmt.Errorf("store token: %w", err)
		}
		tokens = append(tokens, *tok)
	}
	return tokens, nil
}

func newSecret(length int) (string, error) {
	b := make([]byte, length/2)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
