package services

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	joinCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	JoinCodeLength   = 6
	joinCodeAttempts = 5
)

func generateJoinCode() (string, error) {
	var b strings.Builder
	b.Grow(JoinCodeLength)
	max := big.NewInt(int64(len(joinCodeAlphabet)))
	for i := 0; i < JoinCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(joinCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeJoinCode makes user-typed codes comparable with stored ones.
func NormalizeJoinCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
