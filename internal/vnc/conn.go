// Package vnc wraps the RFB wire protocol behind a Session exposing input
// primitives, cached frame capture and smart-wait operations.
package vnc

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"net"
	"sync"

	govnc "github.com/mitchellh/go-vnc"
)

// Conn is the narrow wire surface the Session drives. The production
// implementation speaks RFB through go-vnc; tests substitute a fake that
// serves scripted frames.
type Conn interface {
	// Capture requests a framebuffer update and returns the current frame.
	// A full capture requests a non-incremental update.
	Capture(ctx context.Context, full bool) (*image.RGBA, error)
	KeyEvent(keysym uint32, down bool) error
	PointerEvent(mask uint8, x, y uint16) error
	Close() error
}

// rfbConn adapts a go-vnc client connection. A pump goroutine applies
// framebuffer rectangles into an internal buffer; Capture snapshots it.
type rfbConn struct {
	client *govnc.ClientConn

	mu      sync.Mutex
	frame   *image.RGBA
	updated chan struct{}
	done    chan struct{}
}

// Dial connects to an RFB server and starts the framebuffer pump.
func Dial(ctx context.Context, host string, port int, password string) (Conn, error) {
	var dialer net.Dialer
	netConn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("dial %s:%d: %w", host, port, err)
	}

	msgCh := make(chan govnc.ServerMessage, 16)
	cfg := &govnc.ClientConfig{ServerMessageCh: msgCh}
	if password != "" {
		cfg.Auth = []govnc.ClientAuth{&govnc.PasswordAuth{Password: password}}
	}

	client, err := govnc.Client(netConn, cfg)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("rfb handshake with %s:%d: %w", host, port, err)
	}

	c := &rfbConn{
		client:  client,
		frame:   image.NewRGBA(image.Rect(0, 0, int(client.FrameBufferWidth), int(client.FrameBufferHeight))),
		updated: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go c.pump(msgCh)
	return c, nil
}

func (c *rfbConn) pump(msgCh <-chan govnc.ServerMessage) {
	defer close(c.done)
	for msg := range msgCh {
		update, ok := msg.(*govnc.FramebufferUpdateMessage)
		if !ok {
			continue
		}
		c.mu.Lock()
		for _, rect := range update.Rectangles {
			c.applyRect(rect)
		}
		c.mu.Unlock()
		select {
		case c.updated <- struct{}{}:
		default:
		}
	}
}

// applyRect copies a raw-encoded rectangle into the frame buffer. Other
// encodings are never negotiated, so anything else is skipped.
func (c *rfbConn) applyRect(rect govnc.Rectangle) {
	raw, ok := rect.Enc.(*govnc.RawEncoding)
	if !ok {
		return
	}
	i := 0
	for y := 0; y < int(rect.Height); y++ {
		for x := 0; x < int(rect.Width); x++ {
			if i >= len(raw.Colors) {
				return
			}
			px := raw.Colors[i]
			i++
			c.frame.SetRGBA(int(rect.X)+x, int(rect.Y)+y, color.RGBA{
				R: uint8(px.R),
				G: uint8(px.G),
				B: uint8(px.B),
				A: 0xff,
			})
		}
	}
}

// Capture asks the server for an update and snapshots the buffer once the
// pump has applied it.
func (c *rfbConn) Capture(ctx context.Context, full bool) (*image.RGBA, error) {
	// Drain a stale signal so the wait below observes a fresh update.
	select {
	case <-c.updated:
	default:
	}

	err := c.client.FramebufferUpdateRequest(!full, 0, 0, c.client.FrameBufferWidth, c.client.FrameBufferHeight)
	if err != nil {
		return nil, fmt.Errorf("framebuffer update request: %w", err)
	}

	select {
	case <-c.updated:
	case <-c.done:
		return nil, fmt.Errorf("connection closed during capture")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := image.NewRGBA(c.frame.Bounds())
	copy(snapshot.Pix, c.frame.Pix)
	return snapshot, nil
}

func (c *rfbConn) KeyEvent(keysym uint32, down bool) error {
	return c.client.KeyEvent(keysym, down)
}

func (c *rfbConn) PointerEvent(mask uint8, x, y uint16) error {
	return c.client.PointerEvent(govnc.ButtonMask(mask), x, y)
}

func (c *rfbConn) Close() error {
	return c.client.Close()
}
