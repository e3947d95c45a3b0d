package main

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// GenerateID returns a random hex string of the given byte length
func GenerateID(byteLen int) string {
	b := make([]byte, byteLen)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// GenerateUUID returns a random (version 4) UUID string
func GenerateUUID() string {
	return uuid.NewString()
}

// GenerateGuestName creates a unique-ish guest name like "Guest_a3f2"
func GenerateGuestName() string {
	return "Guest_" + GenerateID(2)
}

// cleanName trims s, substitutes def when empty and cuts it to max bytes
func cleanName(s, def string, max int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		s = def
	}
	if len(s) > max {
		s = s[:max]
	}
	return s
}

// ClampInt restricts v to [min, max]
func ClampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
