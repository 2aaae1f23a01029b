package task

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		task Task
		ok   bool
	}{
		{"text", Text("628111", "hello"), true},
		{"image", Image("628111", "https://cdn.example/c.png", ""), true},
		{"list", List("628111", OptionList{Body: "pick", Button: "Go", Rows: []Option{{ID: "opt_1", Title: "A"}}}), true},
		{"bundle", Bundle("628111", Text("628111", "a"), Image("628111", "https://x/y.png", "")), true},

		{"missing recipient", Text("", "hello"), false},
		{"blank recipient", Text("   ", "hello"), false},
		{"text without body", Task{Kind: KindText, To: "628111"}, false},
		{"image without url", Task{Kind: KindImage, To: "628111", Caption: "c"}, false},
		{"list without rows", Task{Kind: KindList, To: "628111", List: &OptionList{Body: "b"}}, false},
		{"empty bundle", Task{Kind: KindBundle, To: "628111"}, false},
		{"nested bundle", Bundle("628111", Bundle("628111", Text("628111", "x"))), false},
		{"bundle with bad item", Bundle("628111", Task{Kind: KindText, To: "628111"}), false},
		{"unknown kind", Task{Kind: "send_video", To: "628111"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.task.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok {
				if !errors.Is(err, ErrInvalidTask) {
					t.Fatalf("err = %v, want ErrInvalidTask", err)
				}
			}
		})
	}
}

func TestBatchValidate(t *testing.T) {
	if err := NewBatch("628111", Text("628111", "a")).Validate(); err != nil {
		t.Fatalf("valid batch: %v", err)
	}
	if err := (Batch{ID: "x", To: "628111"}).Validate(); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("empty batch: %v", err)
	}
	if err := (Batch{ID: "x", Tasks: []Task{Text("628111", "a")}}).Validate(); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("batch without recipient: %v", err)
	}
	mixed := Batch{ID: "x", To: "628111", Tasks: []Task{Text("628222", "a")}}
	if err := mixed.Validate(); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("mixed recipients: %v", err)
	}
}

func TestNewBatchAssignsIDs(t *testing.T) {
	a := NewBatch("628111", Text("628111", "x"))
	b := NewBatch("628111", Text("628111", "x"))
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("batch ids = %q, %q", a.ID, b.ID)
	}
}

func TestDecodeRejectsInvalidPayload(t *testing.T) {
	raw, err := Encode(Text("628111", "hello"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != KindText || got.To != "628111" || got.Text != "hello" {
		t.Fatalf("decoded = %+v", got)
	}

	if _, err := Decode([]byte("{broken")); err == nil {
		t.Fatal("broken json must fail decode")
	}
	if _, err := Decode([]byte(`{"kind":"send_text","to":"628111"}`)); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("invalid task passed decode: %v", err)
	}
}
