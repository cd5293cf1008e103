package utils

import (
	"crypto/rand"
	"math/big"
	mrand "math/rand"
)

const base62Chars = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

const (
	// DefaultKeyLength is the length of generated public short keys
	DefaultKeyLength = 5
	// DefaultSecretLength is the length of generated admin secret keys
	DefaultSecretLength = 8
	// MaxCustomKeyLength bounds caller-supplied aliases
	MaxCustomKeyLength = 32
)

// reservedKeys collide with fixed routes and can never be used as short keys
var reservedKeys = map[string]struct{}{
	"admin":   {},
	"url":     {},
	"health":  {},
	"metrics": {},
}

var base62Max = big.NewInt(int64(len(base62Chars)))

// GenerateKey generates a random key of the given length using Base62 characters.
// Every character is drawn independently and uniformly, so the alphabet is not biased.
// Uniqueness is left to the store's unique index.
func GenerateKey(length int) string {
	if length <= 0 {
		length = DefaultKeyLength
	}

	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, base62Max)
		if err != nil {
			result[i] = base62Chars[mrand.Intn(len(base62Chars))]
			continue
		}
		result[i] = base62Chars[n.Int64()]
	}
	return string(result)
}

// IsBase62 reports whether s is non-empty and only contains Base62 characters
func IsBase62(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isBase62Char(s[i]) {
			return false
		}
	}
	return true
}

// ValidCustomKey reports whether s can be used as a caller-supplied alias.
// Aliases may additionally contain '-' and '_'.
func ValidCustomKey(s string) bool {
	if s == "" || len(s) > MaxCustomKeyLength || IsReservedKey(s) {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isBase62Char(c) && c != '-' && c != '_' {
			return false
		}
	}
	return true
}

// IsReservedKey reports whether key is taken by a fixed route
func IsReservedKey(key string) bool {
	_, ok := reservedKeys[key]
	return ok
}

func isBase62Char(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
