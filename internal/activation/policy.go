package activation

import (
	"context"
	"time"

	"github.com/ankleBowl/LucyServer/internal/capability"
)

// Default policy timings. The settle delay gives the freshly activated
// surface a moment to register upstream before the retry.
const (
	DefaultTimeout = 5 * time.Second
	DefaultSettle  = 250 * time.Millisecond
)

// Policy retries a call once after triggering an activation.
type Policy struct {
	// Ready is signaled by the transport when the client reports the
	// surface is up.
	Ready *Gate
	// Activate asks the client to bring the surface up.
	Activate func(ctx context.Context) error
	// Timeout bounds the wait for the ready signal (default 5s).
	Timeout time.Duration
	// Settle is the pause between the ready signal and the retry
	// (default 250ms).
	Settle time.Duration
}

// Do runs call. If it fails with KindNoActivePlayer, the policy resets
// the gate, triggers activation, waits for readiness, and retries
// exactly once. A second KindNoActivePlayer failure or a missed signal
// becomes KindActivationTimeout; any other error passes through.
func (p *Policy) Do(ctx context.Context, call func(ctx context.Context) (any, error)) (any, error) {
	result, err := call(ctx)
	if err == nil || capability.KindOf(err) != capability.KindNoActivePlayer {
		return result, err
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	settle := p.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}

	p.Ready.Reset()
	if aerr := p.Activate(ctx); aerr != nil {
		return nil, aerr
	}
	if !p.Ready.Wait(ctx, timeout) {
		return nil, capability.Errf(capability.KindActivationTimeout,
			"playback surface did not come up within %s", timeout)
	}

	select {
	case <-time.After(settle):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	result, err = call(ctx)
	if err != nil && capability.KindOf(err) == capability.KindNoActivePlayer {
		return nil, capability.Errf(capability.KindActivationTimeout,
			"playback surface reported ready but call still found no active player")
	}
	return result, err
}
