// Package decoy produces plausible, inert filler operations that mask
// the traffic pattern around a real high-value submission.
//
// Decoys carry no net economic effect. Their apparent size is drawn
// uniformly from [0.5, 1.5] × the real amount so they are statistically
// indistinguishable from genuine activity. They are fire-and-forget: a
// failed decoy is logged and dropped, never fatal.
package decoy

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/shieldlabs/txshield/internal/metrics"
	"github.com/shieldlabs/txshield/internal/router"
)

// Apparent-size multiplier bounds, in ten-thousandths.
const (
	sizeLo   = 5_000  // 0.5×
	sizeHi   = 15_000 // 1.5×
	sizeBase = 10_000
)

const payloadTagDecoy = 0x04

const fillerBytes = 64

// Submitter is the slice of the router the generator needs.
type Submitter interface {
	Submit(ctx context.Context, payload []byte, opts router.Options) (string, error)
}

// Generator builds and submits decoy payloads.
type Generator struct {
	submitter Submitter
	logger    *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a decoy generator. rng may be nil for a time-seeded PRNG.
func New(submitter Submitter, logger *slog.Logger, rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{submitter: submitter, logger: logger, rng: rng}
}

// Generate builds count inert payloads sized around realAmount.
func (g *Generator) Generate(realAmount *big.Int, count int) [][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()

	payloads := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		m := int64(sizeLo + g.rng.Intn(sizeHi-sizeLo+1))
		apparent := new(big.Int).Mul(realAmount, big.NewInt(m))
		apparent.Div(apparent, big.NewInt(sizeBase))
		payloads = append(payloads, g.encode(apparent))
	}
	return payloads
}

// encode packs a decoy envelope: tag, apparent size, random filler.
// Caller must hold g.mu.
func (g *Generator) encode(apparent *big.Int) []byte {
	size := apparent.Bytes()
	out := make([]byte, 0, 1+4+len(size)+fillerBytes)
	out = append(out, payloadTagDecoy)

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(len(size)))
	out = append(out, buf[:]...)
	out = append(out, size...)

	filler := make([]byte, fillerBytes)
	for i := range filler {
		filler[i] = byte(g.rng.Intn(256))
	}
	return append(out, filler...)
}

// SubmitAll sends every decoy through the router ahead of the real
// payload. Individual failures are logged and skipped; the count of
// decoys that made it out is returned.
func (g *Generator) SubmitAll(ctx context.Context, payloads [][]byte, opts router.Options) int {
	submitted := 0
	for i, p := range payloads {
		if _, err := g.submitter.Submit(ctx, p, opts); err != nil {
			metrics.DecoysTotal.WithLabelValues("error").Inc()
			g.logger.Debug("decoy submission failed", "index", i, "error", err)
			continue
		}
		metrics.DecoysTotal.WithLabelValues("ok").Inc()
		submitted++
	}
	return submitted
}
