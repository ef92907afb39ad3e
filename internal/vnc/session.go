package vnc

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"time"

	"github.com/mfdoom84/automatevnc/internal/domain/script"
	"github.com/mfdoom84/automatevnc/internal/ports"
	"github.com/mfdoom84/automatevnc/internal/vision"
)

// Button identifies a pointer button the way recorded steps do: 1 left,
// 2 middle, 3 right.
type Button int

const (
	ButtonLeft   Button = 1
	ButtonMiddle Button = 2
	ButtonRight  Button = 3
)

func (b Button) mask() uint8 { return 1 << (uint8(b) - 1) }

// Scroll wheel events arrive as presses of buttons 4 and 5.
const (
	scrollUpMask   uint8 = 1 << 3
	scrollDownMask uint8 = 1 << 4
)

const (
	defaultThreshold = 0.7
	defaultCacheTTL  = 100 * time.Millisecond

	tapDuration   = 50 * time.Millisecond
	clickGap      = 100 * time.Millisecond
	typeInterval  = 100 * time.Millisecond
	settleDelay   = 500 * time.Millisecond
	dragFrameTime = 20 * time.Millisecond
)

// Config tunes a Session. Zero values fall back to production defaults.
type Config struct {
	OCR       ports.OCR
	Clock     Clock
	Logger    *slog.Logger
	Threshold float64
	CacheTTL  time.Duration
}

// Session drives one remote desktop. It is owned by a single run and is not
// safe for concurrent use; the frame cache has exactly one writer.
type Session struct {
	conn   Conn
	ocr    ports.OCR
	clock  Clock
	logger *slog.Logger

	threshold float64
	cacheTTL  time.Duration

	cache   *image.RGBA
	cacheAt time.Time

	// lastFound remembers the center of the most recent smart-wait match so
	// a following template click can reuse it without re-verifying the
	// frame. Latency over certainty, kept deliberately.
	lastFound *vision.Point
}

// NewSession wraps an established wire connection.
func NewSession(conn Conn, cfg Config) *Session {
	s := &Session{
		conn:      conn,
		ocr:       cfg.OCR,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		threshold: cfg.Threshold,
		cacheTTL:  cfg.CacheTTL,
	}
	if s.clock == nil {
		s.clock = SystemClock
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.threshold <= 0 {
		s.threshold = defaultThreshold
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = defaultCacheTTL
	}
	return s
}

// Close tears down the wire connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Capture returns the current frame, served from the cache while it is
// younger than the TTL unless a refresh is forced.
func (s *Session) Capture(ctx context.Context, forceRefresh bool) (*image.RGBA, error) {
	if !forceRefresh && s.cache != nil && s.clock.Now().Sub(s.cacheAt) < s.cacheTTL {
		return s.cache, nil
	}
	frame, err := s.conn.Capture(ctx, forceRefresh)
	if err != nil {
		return nil, fmt.Errorf("capture frame: %w", err)
	}
	s.cache = frame
	s.cacheAt = s.clock.Now()
	return frame, nil
}

func (s *Session) invalidate() {
	s.cache = nil
	s.lastFound = nil
}

func (s *Session) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-s.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Move positions the pointer without pressing a button.
func (s *Session) Move(x, y int) error {
	return s.conn.PointerEvent(0, uint16(x), uint16(y))
}

// Click presses and releases the left button at the given coordinates.
func (s *Session) Click(ctx context.Context, x, y int) error {
	return s.clickAt(ctx, x, y, ButtonLeft, 1)
}

// DoubleClick performs two rapid left clicks at the given coordinates.
func (s *Session) DoubleClick(ctx context.Context, x, y int) error {
	return s.clickAt(ctx, x, y, ButtonLeft, 2)
}

// RightClick presses and releases the right button at the given coordinates.
func (s *Session) RightClick(ctx context.Context, x, y int) error {
	return s.clickAt(ctx, x, y, ButtonRight, 1)
}

func (s *Session) clickAt(ctx context.Context, x, y int, button Button, clicks int) error {
	defer s.invalidate()
	s.logger.Debug("click", "x", x, "y", y, "button", int(button), "clicks", clicks)
	for i := 0; i < clicks; i++ {
		if err := s.conn.PointerEvent(0, uint16(x), uint16(y)); err != nil {
			return fmt.Errorf("move pointer: %w", err)
		}
		if err := s.conn.PointerEvent(button.mask(), uint16(x), uint16(y)); err != nil {
			return fmt.Errorf("press button: %w", err)
		}
		if err := s.sleep(ctx, tapDuration); err != nil {
			return err
		}
		if err := s.conn.PointerEvent(0, uint16(x), uint16(y)); err != nil {
			return fmt.Errorf("release button: %w", err)
		}
		if clicks > 1 && i < clicks-1 {
			if err := s.sleep(ctx, clickGap); err != nil {
				return err
			}
		}
	}
	return nil
}

// ClickOptions configure a template-targeted click.
type ClickOptions struct {
	Button    Button
	Clicks    int
	Threshold float64
	// Timeout > 0 runs an internal smart-wait for the template first.
	Timeout      time.Duration
	PollInterval time.Duration
	Hint         *vision.Point
}

// ClickTemplate clicks the center of a template match. With a timeout it
// waits for the template to appear and then clicks the wait's match location
// immediately, without re-verifying the frame. Returns false when the
// template was not found.
func (s *Session) ClickTemplate(ctx context.Context, tmpl vision.Template, opts ClickOptions) (bool, error) {
	if opts.Button == 0 {
		opts.Button = ButtonLeft
	}
	if opts.Clicks <= 0 {
		opts.Clicks = 1
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = s.threshold
	}

	var center vision.Point
	switch {
	case opts.Timeout > 0:
		found, err := s.WaitForImage(ctx, tmpl, WaitOptions{
			Timeout:       opts.Timeout,
			PollInterval:  opts.PollInterval,
			Threshold:     threshold,
			Hint:          opts.Hint,
			FailOnTimeout: true,
		})
		if err != nil {
			return false, err
		}
		if !found || s.lastFound == nil {
			return false, nil
		}
		center = *s.lastFound
	case s.lastFound != nil:
		// Click-after-wait: trust the previous smart-wait's location.
		center = *s.lastFound
	default:
		frame, err := s.Capture(ctx, false)
		if err != nil {
			return false, err
		}
		match := vision.FindTemplate(frame, tmpl, threshold, nil, opts.Hint)
		if match == nil {
			return false, nil
		}
		center = match.Center()
	}

	return true, s.clickAt(ctx, center.X, center.Y, opts.Button, opts.Clicks)
}

// TypeText types each rune, then presses any trailing keys (for example
// "enter"), with a short settle delay at the end.
func (s *Session) TypeText(ctx context.Context, text string, keys ...string) error {
	defer s.invalidate()
	s.logger.Debug("type", "len", len(text), "keys", keys)
	for _, r := range text {
		if err := s.tapKey(ctx, uint32(r)); err != nil {
			return err
		}
		if err := s.sleep(ctx, typeInterval); err != nil {
			return err
		}
	}
	for _, name := range keys {
		if err := s.pressNamed(ctx, name); err != nil {
			return err
		}
	}
	return s.sleep(ctx, settleDelay)
}

// Press taps one or more named keys in sequence.
func (s *Session) Press(ctx context.Context, keys ...string) error {
	defer s.invalidate()
	s.logger.Debug("press", "keys", keys)
	for _, name := range keys {
		if err := s.pressNamed(ctx, name); err != nil {
			return err
		}
	}
	return s.sleep(ctx, settleDelay)
}

// KeyCombo presses all keys down in order and releases them in reverse,
// e.g. ctrl+c.
func (s *Session) KeyCombo(ctx context.Context, keys ...string) error {
	defer s.invalidate()
	s.logger.Debug("key combo", "keys", keys)
	syms := make([]uint32, 0, len(keys))
	for _, name := range keys {
		sym, ok := script.Keysym(name)
		if !ok {
			return fmt.Errorf("unknown key %q", name)
		}
		syms = append(syms, sym)
	}
	for _, sym := range syms {
		if err := s.conn.KeyEvent(sym, true); err != nil {
			return fmt.Errorf("key down: %w", err)
		}
		if err := s.sleep(ctx, tapDuration); err != nil {
			return err
		}
	}
	for i := len(syms) - 1; i >= 0; i-- {
		if err := s.conn.KeyEvent(syms[i], false); err != nil {
			return fmt.Errorf("key up: %w", err)
		}
		if err := s.sleep(ctx, tapDuration); err != nil {
			return err
		}
	}
	return s.sleep(ctx, settleDelay)
}

func (s *Session) pressNamed(ctx context.Context, name string) error {
	sym, ok := script.Keysym(name)
	if !ok {
		return fmt.Errorf("unknown key %q", name)
	}
	if err := s.tapKey(ctx, sym); err != nil {
		return err
	}
	return s.sleep(ctx, typeInterval)
}

func (s *Session) tapKey(ctx context.Context, sym uint32) error {
	if err := s.conn.KeyEvent(sym, true); err != nil {
		return fmt.Errorf("key down: %w", err)
	}
	if err := s.conn.KeyEvent(sym, false); err != nil {
		return fmt.Errorf("key up: %w", err)
	}
	return nil
}

// Drag presses the left button at the start point, interpolates linearly to
// the end point over the given duration, and releases.
func (s *Session) Drag(ctx context.Context, startX, startY, endX, endY int, duration time.Duration) error {
	defer s.invalidate()
	if duration <= 0 {
		duration = 1500 * time.Millisecond
	}
	s.logger.Debug("drag", "from_x", startX, "from_y", startY, "to_x", endX, "to_y", endY)

	if err := s.conn.PointerEvent(0, uint16(startX), uint16(startY)); err != nil {
		return fmt.Errorf("move pointer: %w", err)
	}
	if err := s.sleep(ctx, tapDuration); err != nil {
		return err
	}
	if err := s.conn.PointerEvent(ButtonLeft.mask(), uint16(startX), uint16(startY)); err != nil {
		return fmt.Errorf("press button: %w", err)
	}

	steps := int(duration / dragFrameTime)
	if steps < 1 {
		steps = 1
	}
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := startX + int(float64(endX-startX)*t)
		y := startY + int(float64(endY-startY)*t)
		if err := s.conn.PointerEvent(ButtonLeft.mask(), uint16(x), uint16(y)); err != nil {
			return fmt.Errorf("drag pointer: %w", err)
		}
		if err := s.sleep(ctx, dragFrameTime); err != nil {
			return err
		}
	}

	if err := s.conn.PointerEvent(0, uint16(endX), uint16(endY)); err != nil {
		return fmt.Errorf("release button: %w", err)
	}
	return nil
}

// Scroll turns the wheel the given number of ticks, optionally moving the
// pointer first. Direction is "up" or "down".
func (s *Session) Scroll(ctx context.Context, direction string, clicks, x, y int) error {
	defer s.invalidate()
	if clicks <= 0 {
		clicks = 1
	}
	mask := scrollDownMask
	if direction == "up" {
		mask = scrollUpMask
	}
	px, py := uint16(x), uint16(y)
	if x > 0 || y > 0 {
		if err := s.conn.PointerEvent(0, px, py); err != nil {
			return fmt.Errorf("move pointer: %w", err)
		}
	}
	s.logger.Debug("scroll", "direction", direction, "clicks", clicks)
	for i := 0; i < clicks; i++ {
		if err := s.conn.PointerEvent(mask, px, py); err != nil {
			return fmt.Errorf("wheel press: %w", err)
		}
		if err := s.conn.PointerEvent(0, px, py); err != nil {
			return fmt.Errorf("wheel release: %w", err)
		}
		if err := s.sleep(ctx, tapDuration); err != nil {
			return err
		}
	}
	return nil
}

// SaveScreenshot captures a fresh frame and writes it as PNG.
func (s *Session) SaveScreenshot(ctx context.Context, path string) error {
	frame, err := s.Capture(ctx, true)
	if err != nil {
		return err
	}
	data, err := vision.EncodePNG(frame)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	return nil
}

// ExtractText OCRs the current frame, refreshed first.
func (s *Session) ExtractText(ctx context.Context, region *script.Region, lang string) (string, error) {
	frame, err := s.Capture(ctx, true)
	if err != nil {
		return "", err
	}
	return vision.ExtractText(s.ocr, frame, region, lang)
}
