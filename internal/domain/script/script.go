package script

import (
	"fmt"
	"sort"
	"time"
)

// StepType identifies an automation step variant.
type StepType string

const (
	StepClick        StepType = "click"
	StepDoubleClick  StepType = "double_click"
	StepRightClick   StepType = "right_click"
	StepTypeText     StepType = "type"
	StepKeyPress     StepType = "key_press"
	StepKeyCombo     StepType = "key_combo"
	StepWaitForImage StepType = "wait_for_image"
	StepWaitForText  StepType = "wait_for_text"
	StepWait         StepType = "wait"
	StepScreenshot   StepType = "screenshot"
	StepDrag         StepType = "drag"
	StepScroll       StepType = "scroll"
	StepMove         StepType = "move"
)

// Region is a rectangular area of the screen.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Step is one ordered element of a script. Which optional fields are
// meaningful is determined by Type; Validate enforces that contract.
type Step struct {
	ID    string   `json:"id"`
	Type  StepType `json:"type"`
	Order int      `json:"order"`

	// Coordinates for click, move, drag start.
	X *int `json:"x,omitempty"`
	Y *int `json:"y,omitempty"`

	// Drag end coordinates.
	EndX *int `json:"end_x,omitempty"`
	EndY *int `json:"end_y,omitempty"`

	// Template matching.
	Template  string   `json:"template,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`

	// Text input and OCR search.
	Text string   `json:"text,omitempty"`
	Keys []string `json:"keys,omitempty"`

	// Wait parameters. Timeout and Duration are in seconds.
	Timeout       *float64 `json:"timeout,omitempty"`
	Region        *Region  `json:"region,omitempty"`
	CaseSensitive bool     `json:"case_sensitive,omitempty"`

	// Scroll parameters.
	Direction string `json:"direction,omitempty"`
	Clicks    int    `json:"clicks,omitempty"`

	// Duration for waits and drags, in seconds.
	Duration *float64 `json:"duration,omitempty"`

	Description string `json:"description,omitempty"`
}

// TimeoutOr returns the step timeout or the supplied fallback.
func (s Step) TimeoutOr(fallback time.Duration) time.Duration {
	if s.Timeout != nil && *s.Timeout > 0 {
		return time.Duration(*s.Timeout * float64(time.Second))
	}
	return fallback
}

// DurationOr returns the step duration or the supplied fallback.
func (s Step) DurationOr(fallback time.Duration) time.Duration {
	if s.Duration != nil && *s.Duration > 0 {
		return time.Duration(*s.Duration * float64(time.Second))
	}
	return fallback
}

// Validate checks that the fields required by the step type are present.
func (s Step) Validate() error {
	switch s.Type {
	case StepClick, StepDoubleClick, StepRightClick:
		if s.Template == "" && (s.X == nil || s.Y == nil) {
			return fmt.Errorf("step %s: %s requires coordinates or a template", s.ID, s.Type)
		}
	case StepMove:
		if s.X == nil || s.Y == nil {
			return fmt.Errorf("step %s: move requires coordinates", s.ID)
		}
	case StepDrag:
		if s.X == nil || s.Y == nil || s.EndX == nil || s.EndY == nil {
			return fmt.Errorf("step %s: drag requires start and end coordinates", s.ID)
		}
	case StepTypeText:
		if s.Text == "" {
			return fmt.Errorf("step %s: type requires text", s.ID)
		}
	case StepKeyPress, StepKeyCombo:
		if len(s.Keys) == 0 {
			return fmt.Errorf("step %s: %s requires keys", s.ID, s.Type)
		}
	case StepWaitForImage:
		if s.Template == "" {
			return fmt.Errorf("step %s: wait_for_image requires a template", s.ID)
		}
	case StepWaitForText:
		if s.Text == "" {
			return fmt.Errorf("step %s: wait_for_text requires text", s.ID)
		}
	case StepWait:
		if s.Duration == nil || *s.Duration <= 0 {
			return fmt.Errorf("step %s: wait requires a positive duration", s.ID)
		}
	case StepScroll:
		if s.Direction != "up" && s.Direction != "down" {
			return fmt.Errorf("step %s: scroll direction must be up or down", s.ID)
		}
	case StepScreenshot:
		// No required fields.
	default:
		return fmt.Errorf("step %s: unknown type %q", s.ID, s.Type)
	}
	return nil
}

// Script is a named, ordered list of steps.
type Script struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Steps       []Step `json:"steps"`
}

// Validate checks every step and the ordering invariant: Order values must be
// unique and strictly increasing.
func (s Script) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("script missing name")
	}
	if !sort.SliceIsSorted(s.Steps, func(i, j int) bool {
		return s.Steps[i].Order < s.Steps[j].Order
	}) {
		return fmt.Errorf("script %s: step order must be increasing", s.Name)
	}
	seen := make(map[int]struct{}, len(s.Steps))
	for _, step := range s.Steps {
		if _, dup := seen[step.Order]; dup {
			return fmt.Errorf("script %s: duplicate step order %d", s.Name, step.Order)
		}
		seen[step.Order] = struct{}{}
		if err := step.Validate(); err != nil {
			return fmt.Errorf("script %s: %w", s.Name, err)
		}
	}
	return nil
}
