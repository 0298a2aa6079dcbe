package decoy

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shieldlabs/txshield/internal/router"
)

type countingSubmitter struct {
	calls   int
	failIdx map[int]bool
}

func (s *countingSubmitter) Submit(ctx context.Context, payload []byte, opts router.Options) (string, error) {
	idx := s.calls
	s.calls++
	if s.failIdx[idx] {
		return "", errors.New("dropped")
	}
	return "sig", nil
}

func newTestGenerator(sub Submitter, seed int64) *Generator {
	return New(sub, slog.New(slog.DiscardHandler), rand.New(rand.NewSource(seed)))
}

// apparentSize decodes the size field from a decoy envelope.
func apparentSize(t *testing.T, payload []byte) *big.Int {
	t.Helper()
	require.Greater(t, len(payload), 5)
	require.Equal(t, byte(payloadTagDecoy), payload[0])
	n := binary.BigEndian.Uint32(payload[1:5])
	require.GreaterOrEqual(t, len(payload), int(5+n))
	return new(big.Int).SetBytes(payload[5 : 5+n])
}

func TestGenerate_SizesWithinBounds(t *testing.T) {
	g := newTestGenerator(&countingSubmitter{}, 1)
	real := big.NewInt(1_000_000)

	payloads := g.Generate(real, 200)
	require.Len(t, payloads, 200)

	lo := big.NewInt(500_000)
	hi := big.NewInt(1_500_000)
	for i, p := range payloads {
		size := apparentSize(t, p)
		assert.True(t, size.Cmp(lo) >= 0, "decoy %d below 0.5x: %s", i, size)
		assert.True(t, size.Cmp(hi) <= 0, "decoy %d above 1.5x: %s", i, size)
	}
}

func TestGenerate_SizesVary(t *testing.T) {
	g := newTestGenerator(&countingSubmitter{}, 2)
	payloads := g.Generate(big.NewInt(1_000_000), 50)

	seen := make(map[string]bool)
	for _, p := range payloads {
		seen[apparentSize(t, p).String()] = true
	}
	assert.Greater(t, len(seen), 10, "decoy sizes should not repeat a fixed value")
}

func TestSubmitAll_FireAndForget(t *testing.T) {
	sub := &countingSubmitter{failIdx: map[int]bool{1: true, 3: true}}
	g := newTestGenerator(sub, 3)

	payloads := g.Generate(big.NewInt(1000), 5)
	submitted := g.SubmitAll(context.Background(), payloads, router.Options{PreferRelay: true})

	assert.Equal(t, 5, sub.calls, "every decoy attempted despite failures")
	assert.Equal(t, 3, submitted)
}
