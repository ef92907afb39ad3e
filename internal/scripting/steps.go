package scripting

import (
	"context"
	"fmt"
	"time"

	"github.com/mfdoom84/automatevnc/internal/domain/script"
	"github.com/mfdoom84/automatevnc/internal/vision"
	"github.com/mfdoom84/automatevnc/internal/vnc"
)

const (
	defaultStepTimeout  = 30 * time.Second
	defaultTemplateThr  = 0.8
	defaultWaitDuration = time.Second
	defaultDragDuration = 1500 * time.Millisecond
)

// runSteps interprets a recorded step list against the shared session.
func (c *ExecutionContext) runSteps(ctx context.Context, sc script.Script) error {
	for _, step := range sc.Steps {
		c.logger.Debug("executing step", "script", sc.Name, "order", step.Order, "type", string(step.Type))
		if err := c.runStep(ctx, sc.Name, step); err != nil {
			return fmt.Errorf("step %d (%s): %w", step.Order, step.Type, err)
		}
	}
	return nil
}

func (c *ExecutionContext) runStep(ctx context.Context, scriptName string, step script.Step) error {
	s := c.session
	switch step.Type {
	case script.StepClick:
		return c.clickStep(ctx, scriptName, step, vnc.ButtonLeft, 1)
	case script.StepDoubleClick:
		return c.clickStep(ctx, scriptName, step, vnc.ButtonLeft, 2)
	case script.StepRightClick:
		return c.clickStep(ctx, scriptName, step, vnc.ButtonRight, 1)

	case script.StepTypeText:
		return s.TypeText(ctx, step.Text, step.Keys...)
	case script.StepKeyPress:
		return s.Press(ctx, step.Keys...)
	case script.StepKeyCombo:
		return s.KeyCombo(ctx, step.Keys...)

	case script.StepWaitForImage:
		tmpl, err := c.loadTemplate(ctx, scriptName, step.Template)
		if err != nil {
			return err
		}
		_, err = s.WaitForImage(ctx, tmpl, vnc.WaitOptions{
			Timeout:       step.TimeoutOr(defaultStepTimeout),
			Threshold:     thresholdOr(step.Threshold),
			Region:        step.Region,
			FailOnTimeout: true,
		})
		return err

	case script.StepWaitForText:
		_, err := s.WaitForText(ctx, step.Text, vnc.TextWaitOptions{
			Timeout:       step.TimeoutOr(defaultStepTimeout),
			Region:        step.Region,
			CaseSensitive: step.CaseSensitive,
			FailOnTimeout: true,
		})
		return err

	case script.StepWait:
		return s.Wait(ctx, step.DurationOr(defaultWaitDuration))

	case script.StepScreenshot:
		// Forces a fresh frame; doubles as a render sync point.
		_, err := s.Capture(ctx, true)
		return err

	case script.StepDrag:
		return s.Drag(ctx, *step.X, *step.Y, *step.EndX, *step.EndY, step.DurationOr(defaultDragDuration))

	case script.StepScroll:
		x, y := 0, 0
		if step.X != nil && step.Y != nil {
			x, y = *step.X, *step.Y
		}
		return s.Scroll(ctx, step.Direction, step.Clicks, x, y)

	case script.StepMove:
		return s.Move(*step.X, *step.Y)

	default:
		return fmt.Errorf("unknown step type %q", step.Type)
	}
}

func (c *ExecutionContext) clickStep(ctx context.Context, scriptName string, step script.Step, button vnc.Button, clicks int) error {
	s := c.session
	if step.Template == "" {
		switch {
		case clicks == 2:
			return s.DoubleClick(ctx, *step.X, *step.Y)
		case button == vnc.ButtonRight:
			return s.RightClick(ctx, *step.X, *step.Y)
		default:
			return s.Click(ctx, *step.X, *step.Y)
		}
	}

	tmpl, err := c.loadTemplate(ctx, scriptName, step.Template)
	if err != nil {
		return err
	}
	found, err := s.ClickTemplate(ctx, tmpl, vnc.ClickOptions{
		Button:    button,
		Clicks:    clicks,
		Threshold: thresholdOr(step.Threshold),
		Timeout:   step.TimeoutOr(defaultStepTimeout),
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("template %q not found", step.Template)
	}
	return nil
}

func (c *ExecutionContext) loadTemplate(ctx context.Context, scriptName, name string) (vision.Template, error) {
	if c.templates == nil {
		return vision.Template{}, fmt.Errorf("no template store configured")
	}
	tmpl, err := c.templates.LoadTemplate(ctx, scriptName, name)
	if err != nil {
		return vision.Template{}, fmt.Errorf("template %q: %w", name, err)
	}
	return tmpl, nil
}

func thresholdOr(t *float64) float64 {
	if t != nil && *t > 0 {
		return *t
	}
	return defaultTemplateThr
}
