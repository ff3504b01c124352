package activity

import (
	"context"

	"golang.org/x/time/rate"
)

// TrimIssuer throttles simulated trim issuance to the rate requested by
// `trim -r rate` (§4.E, §6.1), wrapping a token-bucket limiter sized in
// bytes/sec rather than events/sec: each chunk issued costs its own byte
// count in tokens, and WaitN only admits a chunk once enough tokens
// have accumulated, so issuance averages out to TrimRate over time
// without bursting ahead of it.
type TrimIssuer struct {
	limiter *rate.Limiter
}

// NewTrimIssuer builds a throttle for bytesPerSec. A bytesPerSec of 0
// means unthrottled ("full speed", the `-r 0`/no `-r` default).
func NewTrimIssuer(bytesPerSec uint64) *TrimIssuer {
	if bytesPerSec == 0 {
		return &TrimIssuer{}
	}
	burst := int(bytesPerSec)
	if burst <= 0 {
		burst = 1 << 20
	}
	return &TrimIssuer{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

// WaitChunk blocks until chunkBytes worth of tokens are available, or
// ctx is done. An unthrottled issuer returns immediately.
func (t *TrimIssuer) WaitChunk(ctx context.Context, chunkBytes uint64) error {
	if t.limiter == nil {
		return nil
	}
	return t.limiter.WaitN(ctx, int(chunkBytes))
}

// IssueTrimChunks drives p's Trim record forward in chunkBytes
// increments, throttled by bytesPerSec (0 = unthrottled), until the
// activity leaves SCANNING (finished, canceled, or paused). It's the
// throttled counterpart to AdvanceForTesting, giving the `-r rate` flag
// somewhere to act in the absence of a real kernel TRIM issuer.
func IssueTrimChunks(ctx context.Context, p *Pool, chunkBytes uint64, bytesPerSec uint64) error {
	issuer := NewTrimIssuer(bytesPerSec)
	for {
		if p.State(Trim) != StateScanning {
			return nil
		}
		if err := issuer.WaitChunk(ctx, chunkBytes); err != nil {
			return err
		}
		p.AdvanceForTesting(Trim, chunkBytes, chunkBytes, 0)
	}
}
