package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Kind string

const (
	KindText   Kind = "send_text"
	KindImage  Kind = "send_image"
	KindList   Kind = "send_list"
	KindBundle Kind = "send_bundle"
)

var ErrInvalidTask = errors.New("invalid task")

// Task is one unit of outbound work. Tasks are never mutated after
// creation; the payload fields used depend on Kind.
type Task struct {
	Kind Kind   `json:"kind"`
	To   string `json:"to"`

	// KindText
	Text string `json:"text,omitempty"`

	// KindImage
	ImageURL string `json:"image_url,omitempty"`
	Caption  string `json:"caption,omitempty"`

	// KindList
	List *OptionList `json:"list,omitempty"`

	// KindBundle: ordered sub-tasks, executed front to back.
	Items []Task `json:"items,omitempty"`
}

// OptionList is the payload of an interactive selection message.
type OptionList struct {
	Body   string   `json:"body"`
	Button string   `json:"button"`
	Rows   []Option `json:"rows"`
}

type Option struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

func Text(to, body string) Task {
	return Task{Kind: KindText, To: to, Text: body}
}

func Image(to, url, caption string) Task {
	return Task{Kind: KindImage, To: to, ImageURL: url, Caption: caption}
}

func List(to string, list OptionList) Task {
	return Task{Kind: KindList, To: to, List: &list}
}

func Bundle(to string, items ...Task) Task {
	return Task{Kind: KindBundle, To: to, Items: items}
}

func (t Task) Validate() error {
	if strings.TrimSpace(t.To) == "" {
		return fmt.Errorf("%w: missing recipient", ErrInvalidTask)
	}
	switch t.Kind {
	case KindText:
		if t.Text == "" {
			return fmt.Errorf("%w: send_text without body", ErrInvalidTask)
		}
	case KindImage:
		if t.ImageURL == "" {
			return fmt.Errorf("%w: send_image without image_url", ErrInvalidTask)
		}
	case KindList:
		if t.List == nil || len(t.List.Rows) == 0 {
			return fmt.Errorf("%w: send_list without rows", ErrInvalidTask)
		}
	case KindBundle:
		if len(t.Items) == 0 {
			return fmt.Errorf("%w: send_bundle without items", ErrInvalidTask)
		}
		for i, sub := range t.Items {
			if sub.Kind == KindBundle {
				return fmt.Errorf("%w: nested bundle at item %d", ErrInvalidTask, i)
			}
			if err := sub.Validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTask, t.Kind)
	}
	return nil
}

// Batch is an ordered group of tasks for one recipient. The whole batch
// is handed to the queue in one call so a second consumer or a retry
// can never interleave inside it.
type Batch struct {
	ID    string `json:"id"`
	To    string `json:"to"`
	Tasks []Task `json:"tasks"`
}

func NewBatch(to string, tasks ...Task) Batch {
	return Batch{ID: uuid.NewString(), To: to, Tasks: tasks}
}

func (b Batch) Validate() error {
	if strings.TrimSpace(b.To) == "" {
		return fmt.Errorf("%w: batch without recipient", ErrInvalidTask)
	}
	if len(b.Tasks) == 0 {
		return fmt.Errorf("%w: empty batch", ErrInvalidTask)
	}
	for _, t := range b.Tasks {
		if t.To != b.To {
			return fmt.Errorf("%w: task recipient %q does not match batch %q", ErrInvalidTask, t.To, b.To)
		}
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Encode and Decode are the queue wire format.

func Encode(t Task) ([]byte, error) { return json.Marshal(t) }

func Decode(raw []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	return t, nil
}
