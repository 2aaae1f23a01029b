// Package artifact personalizes the offer image for a recipient.
//
// Rendering itself (drawing a name onto a coupon, QR generation) is an
// external collaborator; this package only resolves the reference that
// goes into a send-image task.
package artifact

import (
	"context"
	"net/url"
	"strings"
)

// Renderer resolves the base image reference for one recipient.
type Renderer interface {
	Render(ctx context.Context, base, phone, name string) (string, error)
}

// URLTemplate substitutes {phone} and {name} placeholders in the base
// URL. A base without placeholders passes through unchanged, which is
// the non-personalized coupon case.
type URLTemplate struct{}

func (URLTemplate) Render(_ context.Context, base, phone, name string) (string, error) {
	out := strings.ReplaceAll(base, "{phone}", url.PathEscape(phone))
	out = strings.ReplaceAll(out, "{name}", url.PathEscape(name))
	return out, nil
}
