package appregistry

import (
	"context"
	"errors"
	"testing"
)

type fakeStore struct {
	fields map[string]string
	err    error
}

func (f *fakeStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.fields, nil
}

func TestLoad_NotFound(t *testing.T) {
	r := New(&fakeStore{fields: map[string]string{}})
	_, err := r.Load(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestLoad_ParsesRateLimit(t *testing.T) {
	r := New(&fakeStore{fields: map[string]string{
		"name":      "my-app",
		"baseUrl":   "https://upstream.example.com",
		"userId":    "user-1",
		"rateLimit": `{"strategy":"fixed_window","window":60,"requests":100}`,
	}})

	app, err := r.Load(context.Background(), "app1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if app.ID != "app1" || app.Name != "my-app" || app.BaseURL != "https://upstream.example.com" {
		t.Errorf("unexpected app: %+v", app)
	}
	if app.RateLimit.Window != 60 || app.RateLimit.Requests != 100 {
		t.Errorf("unexpected rate limit: %+v", app.RateLimit)
	}
}

func TestLoad_MalformedRateLimit(t *testing.T) {
	r := New(&fakeStore{fields: map[string]string{
		"name":      "my-app",
		"rateLimit": `not json`,
	}})
	if _, err := r.Load(context.Background(), "app1"); err == nil {
		t.Fatal("expected error for malformed rateLimit field")
	}
}

func TestLoad_PropagatesStoreError(t *testing.T) {
	wantErr := errors.New("boom")
	r := New(&fakeStore{err: wantErr})
	_, err := r.Load(context.Background(), "app1")
	if err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("Load() error = %v, want wrapping %v", err, wantErr)
	}
}
