package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"gatekeeper/internal/deferred"
	"gatekeeper/internal/kv"
)

type fakeStore struct {
	groupsCreated   []string
	appended        []string
	acked           []string
	trimmedTo       string
	deletedConsumer string

	xlen         int64
	xlenErr      error
	oldestID     string
	oldestErr    error
	readMessages []kv.StreamMessage
	readErr      error
}

func (f *fakeStore) XGroupCreateMkStream(ctx context.Context, key, group string) error {
	f.groupsCreated = append(f.groupsCreated, key+"/"+group)
	return nil
}

func (f *fakeStore) XAdd(ctx context.Context, key, field, value string) (string, error) {
	f.appended = append(f.appended, value)
	return "1-1", nil
}

func (f *fakeStore) XReadGroup(ctx context.Context, key, group, consumer string, count int64, block time.Duration, field string) ([]kv.StreamMessage, error) {
	return f.readMessages, f.readErr
}

func (f *fakeStore) XAck(ctx context.Context, key, group string, ids ...string) error {
	f.acked = append(f.acked, ids...)
	return nil
}

func (f *fakeStore) XLen(ctx context.Context, key string) (int64, error) {
	return f.xlen, f.xlenErr
}

func (f *fakeStore) XPendingOldestID(ctx context.Context, key, group string) (string, error) {
	return f.oldestID, f.oldestErr
}

func (f *fakeStore) XTrimMinID(ctx context.Context, key, minID string) error {
	f.trimmedTo = minID
	return nil
}

func (f *fakeStore) XGroupDelConsumer(ctx context.Context, key, group, consumer string) error {
	f.deletedConsumer = consumer
	return nil
}

func TestEnsureGroup_UsesNodeScopedKeys(t *testing.T) {
	fs := &fakeStore{}
	s := New(fs, "node:7")

	if err := s.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("EnsureGroup() error = %v", err)
	}
	if len(fs.groupsCreated) != 1 || fs.groupsCreated[0] != "stream:node:7/group:node:7" {
		t.Errorf("groupsCreated = %v", fs.groupsCreated)
	}
}

func TestAppend_EncodesRequest(t *testing.T) {
	fs := &fakeStore{}
	s := New(fs, "node:1")

	id, err := s.Append(context.Background(), deferred.Request{TicketID: "t-1", AppID: "app-1"})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if id != "1-1" {
		t.Errorf("id = %q, want 1-1", id)
	}
	if len(fs.appended) != 1 {
		t.Fatalf("expected one appended payload, got %d", len(fs.appended))
	}
	decoded, err := deferred.Decode(fs.appended[0])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.TicketID != "t-1" || decoded.AppID != "app-1" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestReadGroup_SkipsMalformedEntriesAndAcksThem(t *testing.T) {
	fs := &fakeStore{
		readMessages: []kv.StreamMessage{
			{ID: "1-1", Value: "not-json"},
			{ID: "2-1", Value: mustEncode(t, deferred.Request{TicketID: "t-2"})},
		},
	}
	s := New(fs, "node:1")

	entries, err := s.ReadGroup(context.Background(), "consumer-1", 10, time.Millisecond)
	if err != nil {
		t.Fatalf("ReadGroup() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Request.TicketID != "t-2" {
		t.Fatalf("entries = %+v", entries)
	}
	if len(fs.acked) != 1 || fs.acked[0] != "1-1" {
		t.Errorf("expected malformed entry 1-1 to be acked, got %v", fs.acked)
	}
}

func TestAck_NoopOnEmptyIDs(t *testing.T) {
	fs := &fakeStore{}
	s := New(fs, "node:1")

	if err := s.Ack(context.Background()); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	if len(fs.acked) != 0 {
		t.Errorf("expected no Ack call for empty ids, got %v", fs.acked)
	}
}

func TestOldestPendingID_PropagatesStoreError(t *testing.T) {
	wantErr := errors.New("boom")
	fs := &fakeStore{oldestErr: wantErr}
	s := New(fs, "node:1")

	if _, err := s.OldestPendingID(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("OldestPendingID() error = %v, want %v", err, wantErr)
	}
}

func TestTrimToMinID_PassesMinIDThrough(t *testing.T) {
	fs := &fakeStore{}
	s := New(fs, "node:1")

	if err := s.TrimToMinID(context.Background(), "5-0"); err != nil {
		t.Fatalf("TrimToMinID() error = %v", err)
	}
	if fs.trimmedTo != "5-0" {
		t.Errorf("trimmedTo = %q, want 5-0", fs.trimmedTo)
	}
}

func TestDeleteConsumer_PassesConsumerThrough(t *testing.T) {
	fs := &fakeStore{}
	s := New(fs, "node:1")

	if err := s.DeleteConsumer(context.Background(), "consumer-9"); err != nil {
		t.Fatalf("DeleteConsumer() error = %v", err)
	}
	if fs.deletedConsumer != "consumer-9" {
		t.Errorf("deletedConsumer = %q, want consumer-9", fs.deletedConsumer)
	}
}

func mustEncode(t *testing.T, r deferred.Request) string {
	t.Helper()
	payload, err := r.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return payload
}
