package songcache

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestCachePersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "songs.list")

	c, err := Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := c.Get("IU - Blueming (Official MV)"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := c.Add("IU - Blueming (Official MV)", "Blueming|IU"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := c.Add("Other => Title", "Song|Artist"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	// 已存在的键不覆盖
	if err := c.Add("IU - Blueming (Official MV)", "Wrong|Value"); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}

	v, err := reopened.Get("IU - Blueming (Official MV)")
	if err != nil || v != "Blueming|IU" {
		t.Errorf("expected 'Blueming|IU', got %q (err %v)", v, err)
	}
	v, err = reopened.Get("Other => Title")
	if err != nil || v != "Song|Artist" {
		t.Errorf("expected separator in key to survive round trip, got %q (err %v)", v, err)
	}
}
