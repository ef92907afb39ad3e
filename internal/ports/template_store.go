package ports

import (
	"context"

	"github.com/mfdoom84/automatevnc/internal/vision"
)

// TemplateStore resolves image templates by script and template name.
type TemplateStore interface {
	LoadTemplate(ctx context.Context, scriptName, templateName string) (vision.Template, error)
}
