package expressions

import (
	"context"
	"encoding/json"
)

// defaultInterpolator backs RenderTemplate. Shared so the jq code cache
// warms across calls.
var defaultInterpolator = NewInterpolator()

// RenderTemplate expands ${{ ... }} references in a plain-text template
// against the variable context. Resolution is textual, so it works for
// markdown documents as well as JSON fragments.
func RenderTemplate(ctx context.Context, template string, vars map[string]any) (string, error) {
	out, err := defaultInterpolator.Resolve(ctx, json.RawMessage(template), vars)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
