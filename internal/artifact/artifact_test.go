package artifact

import (
	"context"
	"testing"
)

func TestURLTemplate(t *testing.T) {
	r := URLTemplate{}

	got, err := r.Render(context.Background(), "https://cdn.example/coupon_{phone}.png", "628111", "Intan")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got != "https://cdn.example/coupon_628111.png" {
		t.Fatalf("got %q", got)
	}

	got, _ = r.Render(context.Background(), "https://cdn.example/{name}/c.png", "628111", "Intan Sari")
	if got != "https://cdn.example/Intan%20Sari/c.png" {
		t.Fatalf("name not escaped: %q", got)
	}

	got, _ = r.Render(context.Background(), "https://cdn.example/static.png", "628111", "Intan")
	if got != "https://cdn.example/static.png" {
		t.Fatalf("plain url changed: %q", got)
	}
}
