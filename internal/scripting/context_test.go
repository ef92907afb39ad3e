package scripting

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"testing"
	"time"

	"github.com/mfdoom84/automatevnc/internal/domain/run"
	"github.com/mfdoom84/automatevnc/internal/domain/script"
	"github.com/mfdoom84/automatevnc/internal/vision"
	"github.com/mfdoom84/automatevnc/internal/vnc"
)

type fakeConn struct {
	pointer int
	keys    []uint32
}

func (c *fakeConn) Capture(_ context.Context, _ bool) (*image.RGBA, error) {
	return image.NewRGBA(image.Rect(0, 0, 100, 100)), nil
}

func (c *fakeConn) KeyEvent(sym uint32, down bool) error {
	if down {
		c.keys = append(c.keys, sym)
	}
	return nil
}

func (c *fakeConn) PointerEvent(_ uint8, _, _ uint16) error {
	c.pointer++
	return nil
}

func (c *fakeConn) Close() error { return nil }

// instantClock makes every sleep and poll interval elapse immediately.
type instantClock struct{ now time.Time }

func (c *instantClock) Now() time.Time { return c.now }

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

type stubScriptStore struct {
	scripts map[string]script.Script
	loads   int
}

func (s *stubScriptStore) Exists(_ context.Context, name string) (bool, error) {
	_, ok := s.scripts[name]
	return ok, nil
}

func (s *stubScriptStore) Load(_ context.Context, name string) (script.Script, error) {
	s.loads++
	sc, ok := s.scripts[name]
	if !ok {
		return script.Script{}, fmt.Errorf("script %q: %w", name, run.ErrNotFound)
	}
	return sc, nil
}

type stubTemplateStore struct{}

func (stubTemplateStore) LoadTemplate(_ context.Context, _, _ string) (vision.Template, error) {
	return vision.Template{Image: image.NewRGBA(image.Rect(0, 0, 4, 4))}, nil
}

func newTestContext(cfg ContextConfig) (*ExecutionContext, *fakeConn) {
	conn := &fakeConn{}
	session := vnc.NewSession(conn, vnc.Config{Clock: &instantClock{now: time.Now()}})
	return NewContext(session, cfg), conn
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	noop := func(_ context.Context, _ *vnc.Session) error { return nil }
	if err := r.RegisterSession("login", noop); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterSession("login", noop); err == nil {
		t.Fatal("duplicate registration accepted")
	}
	if err := r.RegisterContext("", func(_ context.Context, _ *ExecutionContext) error { return nil }); err == nil {
		t.Fatal("empty name accepted")
	}
}

func TestRunScriptNativeEntry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	invoked := false
	if err := r.RegisterSession("login", func(_ context.Context, s *vnc.Session) error {
		invoked = s != nil
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	ec, _ := newTestContext(ContextConfig{Registry: r})
	if err := ec.RunScript(context.Background(), "login"); err != nil {
		t.Fatal(err)
	}
	if !invoked {
		t.Fatal("native entry point never ran")
	}
}

func TestRunScriptMissing(t *testing.T) {
	t.Parallel()

	ec, _ := newTestContext(ContextConfig{Scripts: &stubScriptStore{}})
	err := ec.RunScript(context.Background(), "ghost")
	if !errors.Is(err, run.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestNativeEntryShadowsStoredScript(t *testing.T) {
	t.Parallel()

	store := &stubScriptStore{scripts: map[string]script.Script{
		"login": {Name: "login"},
	}}
	r := NewRegistry()
	if err := r.RegisterContext("login", func(_ context.Context, _ *ExecutionContext) error { return nil }); err != nil {
		t.Fatal(err)
	}

	ec, _ := newTestContext(ContextConfig{Scripts: store, Registry: r})
	if err := ec.RunScript(context.Background(), "login"); err != nil {
		t.Fatal(err)
	}
	if store.loads != 0 {
		t.Fatalf("stored script loaded %d times despite native entry", store.loads)
	}
}

func TestChainAbortsOnFirstFailure(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var order []string
	record := func(name string, fail bool) ContextFunc {
		return func(_ context.Context, _ *ExecutionContext) error {
			order = append(order, name)
			if fail {
				return errors.New("boom")
			}
			return nil
		}
	}
	for _, spec := range []struct {
		name string
		fail bool
	}{{"setup", false}, {"broken", true}, {"teardown", false}} {
		if err := r.RegisterContext(spec.name, record(spec.name, spec.fail)); err != nil {
			t.Fatal(err)
		}
	}

	ec, _ := newTestContext(ContextConfig{Registry: r})
	err := ec.Chain(context.Background(), "setup", "broken", "teardown")
	if err == nil {
		t.Fatal("chain swallowed the failure")
	}
	if len(order) != 2 || order[1] != "broken" {
		t.Fatalf("execution order %v, want [setup broken]", order)
	}
}

func TestStoredScriptStepsRun(t *testing.T) {
	t.Parallel()

	x, y := 10, 20
	duration := 0.05
	store := &stubScriptStore{scripts: map[string]script.Script{
		"demo": {Name: "demo", Steps: []script.Step{
			{Type: script.StepClick, Order: 1, X: &x, Y: &y},
			{Type: script.StepTypeText, Order: 2, Text: "hi"},
			{Type: script.StepWait, Order: 3, Duration: &duration},
		}},
	}}

	ec, conn := newTestContext(ContextConfig{Scripts: store, Templates: stubTemplateStore{}})
	if err := ec.RunScript(context.Background(), "demo"); err != nil {
		t.Fatal(err)
	}
	if conn.pointer == 0 {
		t.Fatal("click step produced no pointer events")
	}
	if len(conn.keys) != 2 || conn.keys[0] != 'h' || conn.keys[1] != 'i' {
		t.Fatalf("typed keys %v, want [h i]", conn.keys)
	}
}

func TestStoredScriptValidationFailure(t *testing.T) {
	t.Parallel()

	store := &stubScriptStore{scripts: map[string]script.Script{
		"bad": {Name: "bad", Steps: []script.Step{
			{Type: script.StepWait, Order: 2},
			{Type: script.StepWait, Order: 1},
		}},
	}}

	ec, _ := newTestContext(ContextConfig{Scripts: store})
	if err := ec.RunScript(context.Background(), "bad"); err == nil {
		t.Fatal("invalid stored script accepted")
	}
}

func TestStepErrorsCarryPosition(t *testing.T) {
	t.Parallel()

	store := &stubScriptStore{scripts: map[string]script.Script{
		"oops": {Name: "oops", Steps: []script.Step{
			{Type: script.StepKeyPress, Order: 7, Keys: []string{"notakey"}},
		}},
	}}

	ec, _ := newTestContext(ContextConfig{Scripts: store})
	err := ec.RunScript(context.Background(), "oops")
	if err == nil {
		t.Fatal("unknown key accepted")
	}
	if want := "step 7 (key_press)"; !strings.Contains(err.Error(), want) {
		t.Fatalf("error %q does not name the failing step (%q)", err, want)
	}
}

func TestVariables(t *testing.T) {
	t.Parallel()

	ec, _ := newTestContext(ContextConfig{Variables: map[string]any{"user": "alice"}})
	if got := ec.GetString("user", "nobody"); got != "alice" {
		t.Fatalf("GetString = %q, want alice", got)
	}
	ec.Set("attempts", 3)
	if v, ok := ec.Get("attempts"); !ok || v.(int) != 3 {
		t.Fatalf("Get attempts = %v, %v", v, ok)
	}
	if got := ec.GetString("attempts", "fallback"); got != "fallback" {
		t.Fatalf("non-string variable: GetString = %q, want fallback", got)
	}
}
