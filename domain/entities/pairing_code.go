package entities

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

const (
	minPairingCode = 100000
	maxPairingCode = 999999
)

var pairingCodeSpan = big.NewInt(maxPairingCode - minPairingCode + 1)

// PairingCodeGenerator draws pairing codes uniformly from [100000, 999999]
type PairingCodeGenerator struct {
	reader io.Reader
}

// NewPairingCodeGenerator creates a generator backed by crypto/rand
func NewPairingCodeGenerator() *PairingCodeGenerator {
	return &PairingCodeGenerator{reader: rand.Reader}
}

// NewPairingCodeGeneratorWithReader creates a generator reading entropy from r
func NewPairingCodeGeneratorWithReader(r io.Reader) *PairingCodeGenerator {
	return &PairingCodeGenerator{reader: r}
}

// Generate returns a new six-digit pairing code
func (g *PairingCodeGenerator) Generate() (string, error) {
	n, err := rand.Int(g.reader, pairingCodeSpan)
	if err != nil {
		return "", fmt.Errorf("failed to generate pairing code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+minPairingCode), nil
}
