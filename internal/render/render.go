// Package render resolves template placeholders such as {{ad}} or {{company}}
// against a contact context.
package render

import (
	"fmt"
	"html"
	"strings"

	"github.com/flosch/pongo2/v6"
	"github.com/kursadbilgin/investor-mailer/internal/domain"
)

// aliasPairs lists placeholder names that resolve to the same value. The
// first name of each pair wins when both are present in the context.
var aliasPairs = [][2]string{
	{"name", "ad"},
	{"company", "sirket"},
	{"category", "kategori"},
}

type Renderer struct {
	trackingPixelURL string
}

// NewRenderer builds a Renderer. A non-empty trackingPixelURL appends an
// invisible image to rendered bodies.
func NewRenderer(trackingPixelURL string) *Renderer {
	return &Renderer{trackingPixelURL: strings.TrimSpace(trackingPixelURL)}
}

// Render substitutes context values into tpl. Values are inserted verbatim.
func (r *Renderer) Render(tpl string, vars map[string]any) (string, error) {
	compiled, err := pongo2.FromString("{% autoescape off %}" + tpl + "{% endautoescape %}")
	if err != nil {
		return "", fmt.Errorf("%w: invalid template: %v", domain.ErrValidation, err)
	}

	out, err := compiled.Execute(pongo2.Context(NormalizeContext(vars)))
	if err != nil {
		return "", fmt.Errorf("%w: render template: %v", domain.ErrValidation, err)
	}
	return out, nil
}

// RenderBody renders an HTML body and appends the tracking pixel when one is
// configured.
func (r *Renderer) RenderBody(tpl string, vars map[string]any) (string, error) {
	out, err := r.Render(tpl, vars)
	if err != nil {
		return "", err
	}
	if r.trackingPixelURL == "" {
		return out, nil
	}

	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none;" />`, html.EscapeString(r.trackingPixelURL))
	if idx := strings.LastIndex(out, "</body>"); idx >= 0 {
		return out[:idx] + pixel + out[idx:], nil
	}
	return out + pixel, nil
}

// NormalizeContext fills every alias of a known placeholder and keeps the
// remaining keys untouched.
func NormalizeContext(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars)+len(aliasPairs)*2+1)
	for k, v := range vars {
		out[k] = v
	}

	for _, pair := range aliasPairs {
		value, ok := vars[pair[0]]
		if !ok {
			value, ok = vars[pair[1]]
		}
		if !ok {
			value = ""
		}
		out[pair[0]] = value
		out[pair[1]] = value
	}
	if _, ok := out["email"]; !ok {
		out["email"] = ""
	}

	return out
}
