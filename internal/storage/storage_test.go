package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestUploadThenResolveRoundTrip(t *testing.T) {
	c, err := New(t.TempDir(), "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	blob := []byte(`{"stage":"report.generate","output":"hello"}`)
	ref, err := c.Upload(ctx, blob)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(ref.URI, "ipfs://sha256:") {
		t.Fatalf("uri = %q, want ipfs://sha256:... prefix", ref.URI)
	}

	got, err := c.Resolve(ctx, ref.URI)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if string(got) != string(blob) {
		t.Fatalf("resolved = %q, want %q", got, blob)
	}
}

func TestResolveFallsBackToGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/ipfs/remotecid") {
			w.Write([]byte("remote-bytes"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := New(t.TempDir(), srv.URL)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	got, err := c.Resolve(context.Background(), "ipfs://remotecid")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if string(got) != "remote-bytes" {
		t.Fatalf("got %q, want remote-bytes", got)
	}
}

func TestResolveWithoutGatewayAndMissingLocalErrors(t *testing.T) {
	c, err := New(t.TempDir(), "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.Resolve(context.Background(), "ipfs://missing"); err == nil {
		t.Fatalf("expected error for unresolvable uri")
	}
}
