package poller_test

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotwatch/slotwatch/internal/appointment"
	"github.com/slotwatch/slotwatch/internal/notify"
	"github.com/slotwatch/slotwatch/internal/poller"
)

// fakeStreamer yields a fixed list, then an optional error.
type fakeStreamer struct {
	slots   []appointment.Slot
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeStreamer) Stream(ctx context.Context) iter.Seq2[appointment.Slot, error] {
	return func(yield func(appointment.Slot, error) bool) {
		if f.started != nil {
			close(f.started)
			select {
			case <-f.release:
			case <-ctx.Done():
			}
		}
		for _, s := range f.slots {
			if !yield(s, nil) {
				return
			}
		}
		if f.err != nil {
			yield(appointment.Slot{}, f.err)
		}
	}
}

// spyFilter wraps a filter and counts evaluations.
type spyFilter struct {
	appointment.Filter
	mu    sync.Mutex
	calls int
}

func (s *spyFilter) Evaluate(slot appointment.Slot) (bool, bool) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.Filter.Evaluate(slot)
}

type spyFormatter struct {
	calls int
}

func (s *spyFormatter) Format(slots []appointment.Slot) (appointment.Message, error) {
	s.calls++
	return appointment.NewFormatter(appointment.FormatterConfig{}).Format(slots)
}

type failingHistory struct{}

func (failingHistory) Record(context.Context, *poller.CycleResult) error {
	return errors.New("database unavailable")
}

func (failingHistory) Recent(context.Context, int) ([]*poller.CycleResult, error) {
	return nil, nil
}

type fixture struct {
	streamer  *fakeStreamer
	filter    *spyFilter
	formatter *spyFormatter
	notifier  *notify.Recorder
	history   poller.HistoryRepository
}

func newFixture() *fixture {
	return &fixture{
		streamer:  &fakeStreamer{},
		filter:    &spyFilter{Filter: appointment.AvailabilityFilter{}},
		formatter: &spyFormatter{},
		notifier:  notify.NewRecorder(nil),
		history:   poller.NewInMemoryRepository(10),
	}
}

func (f *fixture) poller(t *testing.T) *poller.Poller {
	t.Helper()
	p, err := poller.New(poller.Config{
		Scanner:   f.streamer,
		Filter:    f.filter,
		Formatter: f.formatter,
		Notifier:  f.notifier,
		History:   f.history,
		Logger:    zerolog.Nop(),
		NewID:     func() string { return "cycle-1" },
	})
	require.NoError(t, err)
	return p
}

func slotAt(t *testing.T, locationID, active int) appointment.Slot {
	t.Helper()
	start, err := appointment.ParseTimestamp("2022-02-01T09:00")
	require.NoError(t, err)
	return appointment.Slot{LocationID: locationID, Start: start, Active: active}
}

func TestRunCycle_QuietWhenNothingQualifies(t *testing.T) {
	f := newFixture()
	f.streamer.slots = []appointment.Slot{slotAt(t, 5027, 0), slotAt(t, 5022, 0)}

	result, err := f.poller(t).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, poller.OutcomeQuiet, result.Outcome)
	assert.Equal(t, "cycle-1", result.ID)
	assert.Equal(t, appointment.PolicyAvailability, result.Policy)
	assert.Empty(t, f.notifier.Messages())
	assert.Zero(t, f.formatter.calls)
	assert.Equal(t, 2, f.filter.calls)
}

func TestRunCycle_NotifiesFirstAvailable(t *testing.T) {
	f := newFixture()
	f.streamer.slots = []appointment.Slot{slotAt(t, 5027, 0), slotAt(t, 5027, 2), slotAt(t, 5022, 1)}

	result, err := f.poller(t).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, poller.OutcomeNotified, result.Outcome)
	require.Len(t, result.Slots, 1)
	assert.Equal(t, 2, result.Slots[0].Active)
	assert.Equal(t, 2, f.filter.calls)
	assert.Equal(t, "recorder", result.Channel)

	messages := f.notifier.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, result.Message, messages[0].Body)
}

func TestRunCycle_SendFailureStillNotified(t *testing.T) {
	f := newFixture()
	boom := errors.New("rate limited")
	f.notifier = notify.NewRecorder(boom)
	f.streamer.slots = []appointment.Slot{slotAt(t, 5027, 1)}

	result, err := f.poller(t).RunCycle(context.Background())
	assert.ErrorIs(t, err, boom)

	var sendErr *notify.SendError
	assert.True(t, errors.As(err, &sendErr))
	require.NotNil(t, result)
	assert.Equal(t, poller.OutcomeNotified, result.Outcome)
	assert.Contains(t, result.Error, "rate limited")
}

func TestRunCycle_FetchFailureSkipsFilterAndFormatter(t *testing.T) {
	f := newFixture()
	boom := errors.New("connection refused")
	f.streamer.err = boom

	result, err := f.poller(t).RunCycle(context.Background())
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, result)

	assert.Equal(t, poller.OutcomeFailed, result.Outcome)
	assert.Zero(t, f.filter.calls)
	assert.Zero(t, f.formatter.calls)
	assert.Empty(t, f.notifier.Messages())
}

func TestRunCycle_ThresholdPolicy(t *testing.T) {
	f := newFixture()
	notBefore, err := appointment.ParseTimestamp("2022-02-01T09:00")
	require.NoError(t, err)
	f.filter = &spyFilter{Filter: appointment.ThresholdFilter{
		Baseline: appointment.Baseline{LocationID: 5027, NotBefore: notBefore},
	}}
	f.streamer.slots = []appointment.Slot{slotAt(t, 5027, 1), slotAt(t, 5161, 0)}

	result, err := f.poller(t).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, poller.OutcomeNotified, result.Outcome)
	require.Len(t, result.Slots, 1)
	assert.Equal(t, 5161, result.Slots[0].LocationID)
	assert.Equal(t, appointment.PolicyThreshold, result.Policy)
}

func TestRunCycle_RejectsOverlap(t *testing.T) {
	f := newFixture()
	f.streamer.started = make(chan struct{})
	f.streamer.release = make(chan struct{})
	p := f.poller(t)

	done := make(chan error, 1)
	go func() {
		_, err := p.RunCycle(context.Background())
		done <- err
	}()

	<-f.streamer.started
	_, err := p.RunCycle(context.Background())
	assert.ErrorIs(t, err, poller.ErrCycleInProgress)

	close(f.streamer.release)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("first cycle did not finish")
	}
}

func TestRunCycle_HistoryFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	f.history = failingHistory{}
	f.streamer.slots = []appointment.Slot{slotAt(t, 5027, 1)}

	result, err := f.poller(t).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, poller.OutcomeNotified, result.Outcome)
}

func TestRunCycle_RecordsHistoryAndLastCycle(t *testing.T) {
	f := newFixture()
	p := f.poller(t)
	assert.Nil(t, p.LastCycle())

	_, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	last := p.LastCycle()
	require.NotNil(t, last)
	assert.Equal(t, poller.OutcomeQuiet, last.Outcome)

	recent, err := p.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "cycle-1", recent[0].ID)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := poller.New(poller.Config{})
	assert.Error(t, err)
}
