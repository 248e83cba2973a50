// Package notify delivers rendered slot messages to a channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/slotwatch/slotwatch/internal/appointment"
)

// Notifier sends a message through one channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, msg appointment.Message) error
}

// ErrEmptyMessage is returned when asked to send a message with no body.
var ErrEmptyMessage = errors.New("empty message")

// SendError reports a channel rejecting or failing a message.
type SendError struct {
	Channel string
	Code    int
	Err     error
}

func (e *SendError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: send failed (code %d): %v", e.Channel, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: send failed: %v", e.Channel, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Console writes messages to a writer, one block per message.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// NewConsole creates a console notifier writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out, now: time.Now}
}

// Name returns "console".
func (c *Console) Name() string {
	return "console"
}

// Send writes msg to the console.
func (c *Console) Send(ctx context.Context, msg appointment.Message) error {
	if msg.Body == "" {
		return ErrEmptyMessage
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := fmt.Fprintf(c.out, "[%s]\n%s\n\n", c.now().Format(time.RFC3339), msg.Body); err != nil {
		return &SendError{Channel: c.Name(), Err: err}
	}
	return nil
}

// Recorder keeps every message it is sent. Used for dry runs and tests.
type Recorder struct {
	mu       sync.Mutex
	messages []appointment.Message
	err      error
}

// NewRecorder creates a recorder that fails every send with err, if non-nil.
func NewRecorder(err error) *Recorder {
	return &Recorder{err: err}
}

// Name returns "recorder".
func (r *Recorder) Name() string {
	return "recorder"
}

// Send records msg.
func (r *Recorder) Send(_ context.Context, msg appointment.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, msg)
	if r.err != nil {
		return &SendError{Channel: r.Name(), Err: r.err}
	}
	return nil
}

// Messages returns the recorded messages.
func (r *Recorder) Messages() []appointment.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]appointment.Message(nil), r.messages...)
}
