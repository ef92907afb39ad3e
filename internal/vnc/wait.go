package vnc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mfdoom84/automatevnc/internal/domain/script"
	"github.com/mfdoom84/automatevnc/internal/vision"
)

// ErrWaitTimeout is returned by smart waits when the condition never
// appeared and the caller asked for a hard failure.
var ErrWaitTimeout = errors.New("wait timed out")

const (
	defaultWaitTimeout  = 30 * time.Second
	defaultPollInterval = 500 * time.Millisecond
	// minRefreshInterval bounds how often the wire is asked for a full
	// frame, independent of the poll interval, to limit round-trips on
	// slow links.
	minRefreshInterval = 500 * time.Millisecond
)

// WaitOptions configure WaitForImage.
type WaitOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration
	Threshold    float64
	Region       *script.Region
	Hint         *vision.Point
	// FailOnTimeout turns an exhausted wait into an error instead of a
	// false return.
	FailOnTimeout bool
}

// pollState tracks the smart-wait state machine:
// notStarted -> polling -> {matched, timedOut}.
type pollState int

const (
	pollNotStarted pollState = iota
	pollPolling
	pollMatched
	pollTimedOut
)

// poller drives a bounded polling loop on an injectable clock. The frame is
// refreshed at a bounded cadence; between refreshes the check sees the
// cached frame. Check errors are the check's own concern: it reports found
// or not found, never aborts the loop.
type poller struct {
	clock    Clock
	timeout  time.Duration
	interval time.Duration
	state    pollState
}

func newPoller(clock Clock, timeout, interval time.Duration) *poller {
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &poller{clock: clock, timeout: timeout, interval: interval, state: pollNotStarted}
}

func (p *poller) run(ctx context.Context, check func(ctx context.Context, refresh bool) bool) (bool, error) {
	refreshEvery := p.interval
	if refreshEvery < minRefreshInterval {
		refreshEvery = minRefreshInterval
	}

	start := p.clock.Now()
	var lastRefresh time.Time
	p.state = pollPolling

	for p.clock.Now().Sub(start) < p.timeout {
		now := p.clock.Now()
		refresh := lastRefresh.IsZero() || now.Sub(lastRefresh) >= refreshEvery
		if refresh {
			lastRefresh = now
		}
		if check(ctx, refresh) {
			p.state = pollMatched
			return true, nil
		}
		select {
		case <-p.clock.After(p.interval):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	p.state = pollTimedOut
	return false, nil
}

// WaitForImage polls until the template appears or the timeout elapses. On a
// match the location is remembered as the hint for a following click. The
// timeout is wall-clock and best-effort: elapsed time includes capture and
// matching latency.
func (s *Session) WaitForImage(ctx context.Context, tmpl vision.Template, opts WaitOptions) (bool, error) {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = s.threshold
	}

	p := newPoller(s.clock, opts.Timeout, opts.PollInterval)
	s.logger.Debug("waiting for image", "timeout", p.timeout)

	found, err := p.run(ctx, func(ctx context.Context, refresh bool) bool {
		frame, err := s.Capture(ctx, refresh)
		if err != nil {
			s.logger.Debug("capture failed during wait", "error", err)
			return false
		}
		match := vision.FindTemplate(frame, tmpl, threshold, opts.Region, opts.Hint)
		if match == nil {
			return false
		}
		center := match.Center()
		s.lastFound = &center
		s.logger.Debug("image found", "x", center.X, "y", center.Y, "confidence", match.Confidence)
		return true
	})
	if err != nil {
		return false, err
	}
	if !found && opts.FailOnTimeout {
		return false, fmt.Errorf("image did not appear within %s: %w", p.timeout, ErrWaitTimeout)
	}
	return found, nil
}

// TextWaitOptions configure WaitForText.
type TextWaitOptions struct {
	Timeout             time.Duration
	PollInterval        time.Duration
	Region              *script.Region
	Hint                *vision.Point
	Lang                string
	CaseSensitive       bool
	SimilarityThreshold float64
	FailOnTimeout       bool
}

// WaitForText polls until the text is readable on screen or the timeout
// elapses. OCR errors count as "not found" and polling continues.
func (s *Session) WaitForText(ctx context.Context, text string, opts TextWaitOptions) (bool, error) {
	p := newPoller(s.clock, opts.Timeout, opts.PollInterval)
	s.logger.Debug("waiting for text", "text", text, "timeout", p.timeout)

	found, err := p.run(ctx, func(ctx context.Context, refresh bool) bool {
		frame, err := s.Capture(ctx, refresh)
		if err != nil {
			s.logger.Debug("capture failed during wait", "error", err)
			return false
		}
		return vision.FindText(s.ocr, frame, text, vision.TextOptions{
			Region:              opts.Region,
			Hint:                opts.Hint,
			Lang:                opts.Lang,
			CaseSensitive:       opts.CaseSensitive,
			SimilarityThreshold: opts.SimilarityThreshold,
		})
	})
	if err != nil {
		return false, err
	}
	if !found && opts.FailOnTimeout {
		return false, fmt.Errorf("text %q did not appear within %s: %w", text, p.timeout, ErrWaitTimeout)
	}
	return found, nil
}

// Wait sleeps for a fixed duration, honoring cancellation.
func (s *Session) Wait(ctx context.Context, d time.Duration) error {
	return s.sleep(ctx, d)
}
