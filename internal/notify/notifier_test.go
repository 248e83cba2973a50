package notify_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotwatch/slotwatch/internal/appointment"
	"github.com/slotwatch/slotwatch/internal/notify"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestConsole_Send(t *testing.T) {
	var buf bytes.Buffer
	console := notify.NewConsole(&buf)

	err := console.Send(context.Background(), appointment.Message{Body: "Toronto Enrollment Center at Tuesday"})
	require.NoError(t, err)
	assert.Equal(t, "console", console.Name())
	assert.Contains(t, buf.String(), "Toronto Enrollment Center at Tuesday\n")
}

func TestConsole_Send_Errors(t *testing.T) {
	console := notify.NewConsole(failingWriter{})

	err := console.Send(context.Background(), appointment.Message{})
	assert.ErrorIs(t, err, notify.ErrEmptyMessage)

	err = console.Send(context.Background(), appointment.Message{Body: "hi"})
	var sendErr *notify.SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, "console", sendErr.Channel)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = notify.NewConsole(&bytes.Buffer{}).Send(ctx, appointment.Message{Body: "hi"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecorder(t *testing.T) {
	recorder := notify.NewRecorder(nil)
	require.NoError(t, recorder.Send(context.Background(), appointment.Message{Body: "one"}))
	require.NoError(t, recorder.Send(context.Background(), appointment.Message{Body: "two"}))
	assert.Len(t, recorder.Messages(), 2)

	boom := errors.New("boom")
	failing := notify.NewRecorder(boom)
	err := failing.Send(context.Background(), appointment.Message{Body: "one"})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, failing.Messages(), 1)
}

func TestSendError_Error(t *testing.T) {
	err := &notify.SendError{Channel: "twitter", Code: 185, Err: errors.New("over daily limit")}
	assert.Equal(t, "twitter: send failed (code 185): over daily limit", err.Error())

	err = &notify.SendError{Channel: "sms", Err: errors.New("timeout")}
	assert.Equal(t, "sms: send failed: timeout", err.Error())
}
