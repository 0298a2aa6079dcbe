// Package commitreveal implements the two-phase commitment protocol that
// hides a transaction's content until a slot-count delay has passed.
//
// Phase one publishes only SHA256(instructions || amount || secret); the
// real instructions and the secret stay with the initiator. After the
// reveal window elapses (measured in slots against the live chain, not
// wall-clock time), phase two publishes the instructions and secret so
// the on-chain side can recompute and verify the hash. Observers see
// nothing actionable until the reveal lands.
package commitreveal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/shieldlabs/txshield/internal/intent"
)

// Commitment binds an intent to a published hash. The secret is held
// only by the initiator and never transmitted before reveal. A
// commitment is consumed exactly once at reveal, then discarded.
type Commitment struct {
	Hash             [32]byte
	CreatedAtSlot    uint64
	RevealAfterSlots uint32
	CommitSignature  string

	secret   [32]byte
	consumed bool
}

// RevealTargetSlot is the first slot at which reveal is permitted.
func (c *Commitment) RevealTargetSlot() uint64 {
	return c.CreatedAtSlot + uint64(c.RevealAfterSlots)
}

// newSecret draws a commitment secret from a cryptographically secure
// source. Fragment multipliers and delays elsewhere use a plain PRNG;
// the secret is the one value an adversary must not predict.
func newSecret() ([32]byte, error) {
	var s [32]byte
	if _, err := rand.Read(s[:]); err != nil {
		return s, fmt.Errorf("commitreveal: secret generation: %w", err)
	}
	return s, nil
}

// ComputeHash computes the commitment hash over a canonical encoding of
// the instruction payloads, the economic amount, and the secret. Each
// variable-length field is length-prefixed so distinct inputs cannot
// collide by concatenation.
func ComputeHash(instructions [][]byte, amount *big.Int, secret [32]byte) [32]byte {
	h := sha256.New()
	var lenBuf [4]byte

	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(instructions)))
	h.Write(lenBuf[:])
	for _, ins := range instructions {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(ins)))
		h.Write(lenBuf[:])
		h.Write(ins)
	}

	amt := amount.Bytes()
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(amt)))
	h.Write(lenBuf[:])
	h.Write(amt)

	h.Write(secret[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Payload type tags for the on-chain program.
const (
	payloadTagCommit = 0x01
	payloadTagReveal = 0x02
)

// encodeCommitPayload builds the commitment-only instruction: a tag byte
// followed by the 32-byte hash.
func encodeCommitPayload(hash [32]byte) []byte {
	out := make([]byte, 0, 1+32)
	out = append(out, payloadTagCommit)
	out = append(out, hash[:]...)
	return out
}

// encodeRevealPayload builds the reveal instruction carrying the hash,
// the secret, and the original instructions for on-chain recomputation.
func encodeRevealPayload(hash, secret [32]byte, instructions [][]byte) []byte {
	size := 1 + 32 + 32 + 4
	for _, ins := range instructions {
		size += 4 + len(ins)
	}
	out := make([]byte, 0, size)
	out = append(out, payloadTagReveal)
	out = append(out, hash[:]...)
	out = append(out, secret[:]...)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(instructions)))
	out = append(out, lenBuf[:]...)
	for _, ins := range instructions {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(ins)))
		out = append(out, lenBuf[:]...)
		out = append(out, ins...)
	}
	return out
}

// verifyAgainst recomputes the hash from revealed data and compares it to
// the stored commitment. Any mutation of instructions, amount, or secret
// since commit time surfaces here, before anything touches the network.
func (c *Commitment) verifyAgainst(in *intent.TransactionIntent) error {
	if ComputeHash(in.Instructions, in.EconomicAmount, c.secret) != c.Hash {
		return fmt.Errorf("%w: recomputed hash does not match commitment", intent.ErrRevealVerification)
	}
	return nil
}
