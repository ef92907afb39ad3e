package vnc

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/mfdoom84/automatevnc/internal/vision"
)

// fakeClock advances simulated time on every After call, so polling loops and
// input pacing run without real delays.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

type pointerEvent struct {
	mask uint8
	x, y uint16
}

type keyEvent struct {
	sym  uint32
	down bool
}

// stubConn serves scripted frames and records every input event.
type stubConn struct {
	frames   []*image.RGBA
	captures int
	pointer  []pointerEvent
	keys     []keyEvent
	closed   bool
}

func (c *stubConn) Capture(_ context.Context, _ bool) (*image.RGBA, error) {
	c.captures++
	if len(c.frames) == 0 {
		return image.NewRGBA(image.Rect(0, 0, 100, 100)), nil
	}
	i := c.captures - 1
	if i >= len(c.frames) {
		i = len(c.frames) - 1
	}
	return c.frames[i], nil
}

func (c *stubConn) KeyEvent(sym uint32, down bool) error {
	c.keys = append(c.keys, keyEvent{sym: sym, down: down})
	return nil
}

func (c *stubConn) PointerEvent(mask uint8, x, y uint16) error {
	c.pointer = append(c.pointer, pointerEvent{mask: mask, x: x, y: y})
	return nil
}

func (c *stubConn) Close() error {
	c.closed = true
	return nil
}

func newTestSession(conn *stubConn) (*Session, *fakeClock) {
	clock := newFakeClock()
	return NewSession(conn, Config{Clock: clock}), clock
}

// patternFrame stamps a gradient patch at (ox, oy) and returns the frame and
// the patch as a matchable template.
func patternFrame(w, h, ox, oy int) (*image.RGBA, vision.Template) {
	frame := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			frame.SetRGBA(x, y, color.RGBA{R: 180, G: 180, B: 180, A: 0xff})
		}
	}
	patch := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			v := uint8((x*11+y*17)%180 + 40)
			patch.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 0xff})
			frame.SetRGBA(ox+x, oy+y, color.RGBA{R: v, G: v, B: v, A: 0xff})
		}
	}
	return frame, vision.Template{Image: patch}
}

func TestCaptureServesCacheWithinTTL(t *testing.T) {
	t.Parallel()

	conn := &stubConn{}
	s, _ := newTestSession(conn)
	ctx := context.Background()

	if _, err := s.Capture(ctx, false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Capture(ctx, false); err != nil {
		t.Fatal(err)
	}
	if conn.captures != 1 {
		t.Fatalf("wire captures = %d, want 1 (second served from cache)", conn.captures)
	}

	if _, err := s.Capture(ctx, true); err != nil {
		t.Fatal(err)
	}
	if conn.captures != 2 {
		t.Fatalf("forced refresh did not hit the wire: captures = %d", conn.captures)
	}
}

func TestInputInvalidatesCache(t *testing.T) {
	t.Parallel()

	conn := &stubConn{}
	s, _ := newTestSession(conn)
	ctx := context.Background()

	if _, err := s.Capture(ctx, false); err != nil {
		t.Fatal(err)
	}
	if err := s.Click(ctx, 10, 20); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Capture(ctx, false); err != nil {
		t.Fatal(err)
	}
	if conn.captures != 2 {
		t.Fatalf("captures = %d, want 2 (click must invalidate the cache)", conn.captures)
	}
}

func TestClickEventSequence(t *testing.T) {
	t.Parallel()

	conn := &stubConn{}
	s, _ := newTestSession(conn)

	if err := s.Click(context.Background(), 10, 20); err != nil {
		t.Fatal(err)
	}
	want := []pointerEvent{
		{mask: 0, x: 10, y: 20},
		{mask: 1, x: 10, y: 20},
		{mask: 0, x: 10, y: 20},
	}
	if len(conn.pointer) != len(want) {
		t.Fatalf("got %d pointer events, want %d", len(conn.pointer), len(want))
	}
	for i, ev := range want {
		if conn.pointer[i] != ev {
			t.Fatalf("event %d = %+v, want %+v", i, conn.pointer[i], ev)
		}
	}
}

func TestDoubleClickPressesTwice(t *testing.T) {
	t.Parallel()

	conn := &stubConn{}
	s, _ := newTestSession(conn)

	if err := s.DoubleClick(context.Background(), 5, 5); err != nil {
		t.Fatal(err)
	}
	presses := 0
	for _, ev := range conn.pointer {
		if ev.mask == 1 {
			presses++
		}
	}
	if presses != 2 {
		t.Fatalf("button pressed %d times, want 2", presses)
	}
}

func TestKeyComboReleasesInReverse(t *testing.T) {
	t.Parallel()

	conn := &stubConn{}
	s, _ := newTestSession(conn)

	if err := s.KeyCombo(context.Background(), "ctrl", "c"); err != nil {
		t.Fatal(err)
	}
	const ctrl = 0xffe3
	want := []keyEvent{
		{sym: ctrl, down: true},
		{sym: 'c', down: true},
		{sym: 'c', down: false},
		{sym: ctrl, down: false},
	}
	if len(conn.keys) != len(want) {
		t.Fatalf("got %d key events, want %d", len(conn.keys), len(want))
	}
	for i, ev := range want {
		if conn.keys[i] != ev {
			t.Fatalf("event %d = %+v, want %+v", i, conn.keys[i], ev)
		}
	}
}

func TestTypeTextWithTrailingKey(t *testing.T) {
	t.Parallel()

	conn := &stubConn{}
	s, _ := newTestSession(conn)

	if err := s.TypeText(context.Background(), "hi", "enter"); err != nil {
		t.Fatal(err)
	}
	var taps []uint32
	for _, ev := range conn.keys {
		if ev.down {
			taps = append(taps, ev.sym)
		}
	}
	want := []uint32{'h', 'i', 0xff0d}
	if len(taps) != len(want) {
		t.Fatalf("got taps %v, want %v", taps, want)
	}
	for i := range want {
		if taps[i] != want[i] {
			t.Fatalf("tap %d = %#x, want %#x", i, taps[i], want[i])
		}
	}
}

func TestUnknownKeyRejected(t *testing.T) {
	t.Parallel()

	conn := &stubConn{}
	s, _ := newTestSession(conn)
	if err := s.Press(context.Background(), "hyperdrive"); err == nil {
		t.Fatal("expected error for unknown key name")
	}
}

func TestScrollWheelMasks(t *testing.T) {
	t.Parallel()

	conn := &stubConn{}
	s, _ := newTestSession(conn)

	if err := s.Scroll(context.Background(), "up", 2, 50, 60); err != nil {
		t.Fatal(err)
	}
	wheel := 0
	for _, ev := range conn.pointer {
		if ev.mask == scrollUpMask {
			wheel++
		}
		if ev.mask == scrollDownMask {
			t.Fatal("scroll up emitted a down-wheel event")
		}
	}
	if wheel != 2 {
		t.Fatalf("wheel pressed %d times, want 2", wheel)
	}
}

func TestClickTemplateReusesWaitMatch(t *testing.T) {
	t.Parallel()

	frame, tmpl := patternFrame(200, 160, 60, 40)
	conn := &stubConn{frames: []*image.RGBA{frame}}
	s, _ := newTestSession(conn)
	ctx := context.Background()

	found, err := s.WaitForImage(ctx, tmpl, WaitOptions{Timeout: time.Second})
	if err != nil || !found {
		t.Fatalf("wait: found=%v err=%v", found, err)
	}
	capturesAfterWait := conn.captures

	// The click must land on the wait's match center without touching the
	// wire again.
	clicked, err := s.ClickTemplate(ctx, tmpl, ClickOptions{})
	if err != nil || !clicked {
		t.Fatalf("click: clicked=%v err=%v", clicked, err)
	}
	if conn.captures != capturesAfterWait {
		t.Fatalf("click-after-wait captured a new frame (%d -> %d)", capturesAfterWait, conn.captures)
	}
	if len(conn.pointer) == 0 {
		t.Fatal("no pointer events recorded")
	}
	if ev := conn.pointer[0]; ev.x != 68 || ev.y != 48 {
		t.Fatalf("clicked at (%d, %d), want match center (68, 48)", ev.x, ev.y)
	}
}

func TestClickTemplateNotFound(t *testing.T) {
	t.Parallel()

	frame, _ := patternFrame(200, 160, 60, 40)
	_, other := patternFrame(200, 160, 0, 0)

	// A template absent from the frame: invert the known pattern.
	inverted := image.NewRGBA(other.Image.Bounds())
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			v := 255 - other.Image.(*image.RGBA).RGBAAt(x, y).R
			inverted.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 0xff})
		}
	}

	conn := &stubConn{frames: []*image.RGBA{frame}}
	s, _ := newTestSession(conn)

	clicked, err := s.ClickTemplate(context.Background(), vision.Template{Image: inverted}, ClickOptions{Threshold: 0.9})
	if err != nil {
		t.Fatal(err)
	}
	if clicked {
		t.Fatal("absent template reported as clicked")
	}
	if len(conn.pointer) != 0 {
		t.Fatal("pointer moved for an absent template")
	}
}
