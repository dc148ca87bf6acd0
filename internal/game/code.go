/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"crypto/rand"
	"fmt"
)

const codeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// CodeGenerator returns a fresh room code. Uniqueness is checked by the Registry.
type CodeGenerator func() (string, error)

// NewCodeGenerator returns a generator of crypto-random codes of the given length.
func NewCodeGenerator(length int) CodeGenerator {
	return func() (string, error) {
		return randomCode(length)
	}
}

func randomCode(n int) (string, error) {
	// Rejection sampling keeps every letter equally likely.
	const max = byte(255 - (256 % len(codeLetters)))

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)

	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}

		for _, b := range buf {
			if b <= max {
				out = append(out, codeLetters[int(b)%len(codeLetters)])
				if len(out) == n {
					return string(out), nil
				}
			}
		}
	}

	return string(out), nil
}
