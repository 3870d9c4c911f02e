package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestManifestWatcher_FiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	if err := os.WriteFile(path, []byte("baseDir: /tmp/run\n"), 0644); err != nil {
		t.Fatal(err)
	}

	fired := make(chan string, 1)
	mw, err := NewManifestWatcher(path, func(p string) {
		select {
		case fired <- p:
		default:
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer mw.Stop()
	mw.SetDebounce(50 * time.Millisecond)
	mw.Start(context.Background())

	if err := os.WriteFile(path, []byte("baseDir: /tmp/run2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-fired:
		want, _ := filepath.Abs(path)
		if got != want {
			t.Errorf("callback path = %q, want %q", got, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("callback never fired")
	}
}

func TestManifestWatcher_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	if err := os.WriteFile(path, []byte("a: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	fired := make(chan string, 10)
	mw, err := NewManifestWatcher(path, func(p string) {
		fired <- p
	})
	if err != nil {
		t.Fatal(err)
	}
	defer mw.Stop()
	mw.SetDebounce(200 * time.Millisecond)
	mw.Start(context.Background())

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("a: 2\n"), 0644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("callback never fired")
	}

	// The burst collapses into one callback.
	select {
	case <-fired:
		t.Error("expected a single debounced callback")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestManifestWatcher_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	if err := os.WriteFile(path, []byte("a: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	fired := make(chan string, 1)
	mw, err := NewManifestWatcher(path, func(p string) {
		fired <- p
	})
	if err != nil {
		t.Fatal(err)
	}
	defer mw.Stop()
	mw.SetDebounce(50 * time.Millisecond)
	mw.Start(context.Background())

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("b: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
		t.Error("sibling file change must not fire the callback")
	case <-time.After(300 * time.Millisecond):
	}
}
