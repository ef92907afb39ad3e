package script

import (
	"testing"
	"time"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestStepValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		step    Step
		wantErr bool
	}{
		{"click with coordinates", Step{Type: StepClick, X: intPtr(10), Y: intPtr(20)}, false},
		{"click with template", Step{Type: StepClick, Template: "ok_button"}, false},
		{"click without target", Step{Type: StepClick}, true},
		{"move missing y", Step{Type: StepMove, X: intPtr(5)}, true},
		{"drag complete", Step{Type: StepDrag, X: intPtr(0), Y: intPtr(0), EndX: intPtr(9), EndY: intPtr(9)}, false},
		{"drag missing end", Step{Type: StepDrag, X: intPtr(0), Y: intPtr(0)}, true},
		{"type without text", Step{Type: StepTypeText}, true},
		{"key combo without keys", Step{Type: StepKeyCombo}, true},
		{"wait_for_image without template", Step{Type: StepWaitForImage}, true},
		{"wait_for_text with text", Step{Type: StepWaitForText, Text: "Done"}, false},
		{"wait without duration", Step{Type: StepWait}, true},
		{"wait with duration", Step{Type: StepWait, Duration: floatPtr(1.5)}, false},
		{"scroll sideways", Step{Type: StepScroll, Direction: "left"}, true},
		{"screenshot", Step{Type: StepScreenshot}, false},
		{"unknown type", Step{Type: "teleport"}, true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.step.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestScriptValidateOrdering(t *testing.T) {
	t.Parallel()

	ok := Script{Name: "login", Steps: []Step{
		{Type: StepClick, Order: 1, X: intPtr(1), Y: intPtr(1)},
		{Type: StepWait, Order: 2, Duration: floatPtr(1)},
	}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid script rejected: %v", err)
	}

	outOfOrder := Script{Name: "login", Steps: []Step{
		{Type: StepWait, Order: 2, Duration: floatPtr(1)},
		{Type: StepClick, Order: 1, X: intPtr(1), Y: intPtr(1)},
	}}
	if err := outOfOrder.Validate(); err == nil {
		t.Fatal("decreasing step order accepted")
	}

	duplicate := Script{Name: "login", Steps: []Step{
		{Type: StepWait, Order: 1, Duration: floatPtr(1)},
		{Type: StepWait, Order: 1, Duration: floatPtr(1)},
	}}
	if err := duplicate.Validate(); err == nil {
		t.Fatal("duplicate step order accepted")
	}

	if err := (Script{}).Validate(); err == nil {
		t.Fatal("nameless script accepted")
	}
}

func TestTimeoutAndDurationFallbacks(t *testing.T) {
	t.Parallel()

	s := Step{Timeout: floatPtr(2.5), Duration: floatPtr(0.25)}
	if got := s.TimeoutOr(time.Second); got != 2500*time.Millisecond {
		t.Fatalf("TimeoutOr = %v, want 2.5s", got)
	}
	if got := s.DurationOr(time.Second); got != 250*time.Millisecond {
		t.Fatalf("DurationOr = %v, want 250ms", got)
	}

	var empty Step
	if got := empty.TimeoutOr(30 * time.Second); got != 30*time.Second {
		t.Fatalf("fallback TimeoutOr = %v, want 30s", got)
	}
}

func TestKeysym(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		want uint32
	}{
		{"ctrl", 0xffe3},
		{"enter", 0xff0d},
		{"bsp", 0xff08},
		{"f5", 0xffc2},
		{"a", 'a'},
		{"7", '7'},
	}
	for _, tc := range cases {
		got, ok := Keysym(tc.name)
		if !ok || got != tc.want {
			t.Fatalf("Keysym(%q) = %#x, %v; want %#x", tc.name, got, ok, tc.want)
		}
	}
	if _, ok := Keysym("notakey"); ok {
		t.Fatal("multi-rune unknown key resolved")
	}
}
