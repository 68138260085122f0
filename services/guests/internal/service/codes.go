package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
)

const maxCodeAttempts = 20

// newCode returns a random 8-digit number as text.
func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(90000000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+10000000), nil
}

// uniqueCode draws codes until taken reports one as free.
func uniqueCode(ctx context.Context, taken func(context.Context, string) (bool, error)) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := newCode()
		if err != nil {
			return "", err
		}
		exists, err := taken(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free code after %d attempts", maxCodeAttempts)
}
