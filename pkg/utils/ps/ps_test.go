package ps

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDirDiskUsage(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a"), make([]byte, 100), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b"), make([]byte, 28), 0600); err != nil {
		t.Fatal(err)
	}

	size, err := DirDiskUsage(dir)
	if err != nil {
		t.Fatal(err)
	}
	if size != 128 {
		t.Fatalf("got %d", size)
	}
}

func TestStatus(t *testing.T) {
	h, err := Status(t.TempDir())
	if err != nil {
		t.Skipf("host stats unavailable: %s", err)
	}
	if h.Memory.Total == 0 || h.Disk.Total == 0 {
		t.Fatalf("empty status %+v", h)
	}
}
