package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/stepline/stepline/pkg/schema"
)

const (
	tokenOpen  = "${{"
	tokenClose = "}}"
)

// Interpolator resolves ${{ ... }} references in step params against the
// instance's variable context. The expression between the braces is a jq
// query over the variable bindings, so `${{ .project_scale }}` pulls a
// binding and `${{ .prd.sections[0].title }}` reaches into structure.
type Interpolator struct {
	jq *GoJQEngine
}

// NewInterpolator creates an Interpolator backed by a GoJQ engine.
func NewInterpolator() *Interpolator {
	return &Interpolator{jq: NewGoJQEngine()}
}

// HasInterpolation quickly checks if raw params contain ${{ }} references.
func HasInterpolation(raw json.RawMessage) bool {
	return strings.Contains(string(raw), tokenOpen)
}

// Resolve replaces every ${{ ... }} token in the raw JSON params with the
// value its query produces. A reference that resolves to nothing is an
// error: silently substituting null hides typos in definitions.
func (interp *Interpolator) Resolve(ctx context.Context, raw json.RawMessage, vars map[string]any) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}

	var out strings.Builder
	out.Grow(len(raw))

	rest := string(raw)
	for {
		before, after, found := strings.Cut(rest, tokenOpen)
		out.WriteString(before)
		if !found {
			break
		}

		token, tail, closed := strings.Cut(after, tokenClose)
		if !closed {
			return nil, schema.NewError(schema.ErrCodeExpression, "unclosed ${{ expression")
		}

		query := strings.TrimSpace(token)
		switch {
		case query == "":
			return nil, schema.NewError(schema.ErrCodeExpression, "empty variable reference: ${{  }}")
		case strings.Contains(query, tokenOpen):
			// A nested open brace means the outer Cut matched inside
			// another token. Recursive interpolation is not supported.
			return nil, schema.NewError(schema.ErrCodeExpression,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}

		val, err := interp.jq.Evaluate(ctx, query, vars)
		if err != nil {
			return nil, err
		}
		if val == nil {
			return nil, schema.NewErrorf(schema.ErrCodeExpression,
				"reference ${{ %s }} resolved to nothing; known variables: %s",
				query, strings.Join(variableNames(vars), ", ")).
				WithDetails(map[string]any{"expression": query})
		}

		out.WriteString(encodeValue(val))
		rest = tail
	}

	return json.RawMessage(out.String()), nil
}

// encodeValue embeds a resolved value into the surrounding JSON text.
// Strings splice in bare so `"prompt": "scale is ${{ .scale }}"` reads
// naturally; everything else is marshalled.
func encodeValue(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		return fmt.Sprintf("%t", v)
	case float64, int, int64:
		return fmt.Sprintf("%v", v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// variableNames returns the sorted binding names for error messages.
func variableNames(vars map[string]any) []string {
	if len(vars) == 0 {
		return []string{"(none)"}
	}
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
