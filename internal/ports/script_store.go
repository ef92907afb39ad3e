package ports

import (
	"context"

	"github.com/mfdoom84/automatevnc/internal/domain/script"
)

// ScriptStore provides read access to stored automation scripts.
//
// Implementations return run.ErrNotFound (wrapped or direct) when a script
// is absent.
type ScriptStore interface {
	// Exists reports whether a script with the given name is stored.
	Exists(ctx context.Context, name string) (bool, error)
	// Load returns the script's step list.
	Load(ctx context.Context, name string) (script.Script, error)
}
