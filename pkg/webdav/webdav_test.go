package webdav

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestHandlerServesFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("jpeg"), 0600); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler(dir))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/a.jpg")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestStartStop(t *testing.T) {
	w := New(context.Background(), 0, t.TempDir())
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if !w.Running() {
		t.Fatal("not running")
	}
	w.Stop()
	w.Stop()
	if w.Running() {
		t.Fatal("still running")
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	w.Stop()
}
