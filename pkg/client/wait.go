package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensandbox/ptyctl/internal/metrics"
	"github.com/opensandbox/ptyctl/internal/termtext"
)

// Wait defaults.
const (
	DefaultPollInterval = time.Second
	DefaultMaxAttempts  = 30
	DefaultBackoff      = 1.5
	DefaultMaxInterval  = 5 * time.Second
)

// WaitOptions controls how WaitForMarker polls a session.
type WaitOptions struct {
	// PollInterval is the first delay between reads.
	PollInterval time.Duration
	// MaxAttempts is the maximum number of reads. The wait never lasts longer
	// than PollInterval*MaxAttempts regardless of backoff.
	MaxAttempts int
	// Backoff multiplies the delay after each read. Values below 1 mean a fixed interval.
	Backoff float64
	// MaxInterval caps a single delay.
	MaxInterval time.Duration
	// Window is the number of characters returned in WaitResult.Output.
	Window int
}

func (o WaitOptions) withDefaults() WaitOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Backoff == 0 {
		o.Backoff = DefaultBackoff
	}
	if o.Backoff < 1 {
		o.Backoff = 1
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = DefaultMaxInterval
	}
	if o.MaxInterval < o.PollInterval {
		o.MaxInterval = o.PollInterval
	}
	return o
}

// Budget is the hard deadline applied to a wait.
func (o WaitOptions) Budget() time.Duration {
	o = o.withDefaults()
	return o.PollInterval * time.Duration(o.MaxAttempts)
}

// WaitResult is the last output seen by a wait and whether the marker was in it.
// It is returned on success and on timeout.
type WaitResult struct {
	Output   string
	Settled  bool
	Attempts int
	Elapsed  time.Duration
}

// WaitForMarker polls a session until marker appears in its cleaned buffer.
// Callers that must not match earlier output pass a fresh marker. The first
// read happens immediately. Transient
// read failures are retried; a 4xx from the bridge ends the wait.
//
// When the marker is not seen the returned error is ErrMarkerNotFound if the
// attempts ran out or ErrRemoteTimeout if the deadline passed first. The
// remote command may still be running in either case.
func (c *Client) WaitForMarker(ctx context.Context, sessionID, marker string, opts WaitOptions) (*WaitResult, error) {
	if marker == "" {
		return nil, fmt.Errorf("wait: marker is empty")
	}
	opts = opts.withDefaults()
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, opts.Budget())
	defer cancel()

	res := &WaitResult{}
	finish := func(outcome string, err error) (*WaitResult, error) {
		res.Elapsed = time.Since(start)
		metrics.MarkerWaitsTotal.WithLabelValues(outcome).Inc()
		if res.Settled {
			metrics.MarkerPollAttempts.Observe(float64(res.Attempts))
		}
		return res, err
	}
	timedOut := func(cause error) (*WaitResult, error) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return finish("cancelled", ctx.Err())
		}
		return finish("timeout", &Error{Kind: KindRemoteTimeout, Op: "wait",
			Err: fmt.Errorf("marker %q not seen within %s after %d reads: %w", marker, opts.Budget(), res.Attempts, cause)})
	}

	var lastErr error
	interval := opts.PollInterval
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		res.Attempts = attempt
		raw, err := c.rawBuffer(waitCtx, sessionID)
		switch {
		case err != nil && waitCtx.Err() != nil:
			return timedOut(waitCtx.Err())
		case err != nil:
			var e *Error
			if errors.As(err, &e) && e.Kind == KindAPI && e.Status >= 400 && e.Status < 500 {
				return finish("error", err)
			}
			lastErr = err
			c.logf("client: wait read %d failed: %v", attempt, err)
		default:
			lastErr = nil
			text := termtext.Clean(raw, c.stripMode)
			if c.foldASCII {
				text = termtext.FoldASCII(text)
			}
			window := opts.Window
			if window <= 0 {
				window = c.window
			}
			res.Output = termtext.Tail(text, window)
			if strings.Contains(text, marker) {
				res.Settled = true
				return finish("settled", nil)
			}
		}

		if attempt == opts.MaxAttempts {
			break
		}
		timer := time.NewTimer(interval)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			return timedOut(waitCtx.Err())
		case <-timer.C:
		}
		interval = time.Duration(float64(interval) * opts.Backoff)
		if interval > opts.MaxInterval {
			interval = opts.MaxInterval
		}
	}

	err := fmt.Errorf("marker %q not seen after %d reads", marker, res.Attempts)
	if lastErr != nil {
		err = fmt.Errorf("%w (last read: %v)", err, lastErr)
	}
	return finish("not_found", &Error{Kind: KindMarkerNotFound, Op: "wait", Err: err})
}
