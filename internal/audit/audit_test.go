package audit

import (
	"context"
	"errors"
	"testing"
)

type fakeSink struct {
	published []OutcomeEvent
	err       error
	closed    bool
}

func (f *fakeSink) Publish(ctx context.Context, event OutcomeEvent) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, event)
	return nil
}

func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}

func TestMultiPublish_FansOutToEverySink(t *testing.T) {
	a := &fakeSink{}
	b := &fakeSink{}
	m := NewMulti([]Sink{a, b}, nil)

	event := OutcomeEvent{TicketID: "t-1", AppID: "app-1", Status: "completed", StatusCode: 200}
	m.Publish(context.Background(), event)

	if len(a.published) != 1 || a.published[0] != event {
		t.Errorf("sink a did not receive event: %+v", a.published)
	}
	if len(b.published) != 1 || b.published[0] != event {
		t.Errorf("sink b did not receive event: %+v", b.published)
	}
}

func TestMultiPublish_OneSinkFailureDoesNotBlockOthers(t *testing.T) {
	failing := &fakeSink{err: errors.New("publish failed")}
	healthy := &fakeSink{}

	var gotErrs []string
	m := NewMulti([]Sink{failing, healthy}, func(sinkName string, err error) {
		gotErrs = append(gotErrs, sinkName)
	})

	m.Publish(context.Background(), OutcomeEvent{TicketID: "t-1"})

	if len(healthy.published) != 1 {
		t.Error("expected healthy sink to still receive the event")
	}
	if len(gotErrs) != 1 {
		t.Errorf("expected exactly one onErr call, got %v", gotErrs)
	}
}

func TestMultiClose_ClosesEverySink(t *testing.T) {
	a := &fakeSink{}
	b := &fakeSink{}
	m := NewMulti([]Sink{a, b}, nil)

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("expected both sinks to be closed")
	}
}

func TestMultiClose_ReturnsFirstError(t *testing.T) {
	wantErr := errors.New("close failed")
	failingClose := &fakeSinkCloseErr{err: wantErr}
	m := NewMulti([]Sink{failingClose}, nil)

	if err := m.Close(); !errors.Is(err, wantErr) {
		t.Errorf("Close() error = %v, want %v", err, wantErr)
	}
}

type fakeSinkCloseErr struct {
	err error
}

func (f *fakeSinkCloseErr) Publish(ctx context.Context, event OutcomeEvent) error { return nil }
func (f *fakeSinkCloseErr) Close() error                                          { return f.err }
