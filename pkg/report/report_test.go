package report

import (
	"path/filepath"
	"testing"

	"github.com/hsp501/sweeper/pkg/chunkhash"
)

func TestParseOriginal(t *testing.T) {
	serverID, path, ok := ParseOriginal("original@srv-1:/a/b.bin")
	if !ok || serverID != "srv-1" || path != "/a/b.bin" {
		t.Fatalf("got (%q, %q, %v)", serverID, path, ok)
	}

	if _, _, ok := ParseOriginal("/plain/path"); ok {
		t.Fatal("expected non-original token to fail to parse")
	}
}

func TestOnDuplicateNonLocalAlwaysAppends(t *testing.T) {
	b := NewBuilder(0, 0)
	chunks := []chunkhash.Chunk{{Serial: 1, Hash: "abc"}}

	if !b.OnDuplicate("srv", "/server/a.bin", chunks, "/client/a.bin", 100, false) {
		t.Fatal("expected first registration to add the copy")
	}
	if !b.OnDuplicate("srv", "/server/a.bin", chunks, "/client/b.bin", 100, false) {
		t.Fatal("expected second distinct copy to be added")
	}

	r := b.Build("dev", false, "srv:5555", nil)
	key := ChunkKey(chunks)
	group := r.Duplicate[key]
	if len(group) != 4 {
		t.Fatalf("group = %v, want 4 entries", group)
	}
	if group[1] != "original@srv:/server/a.bin" {
		t.Errorf("original token = %q", group[1])
	}
}

func TestOnDuplicateLocalModePreservesOriginalTokenAcrossHits(t *testing.T) {
	chunks := []chunkhash.Chunk{{Serial: 1, Hash: "abc"}}

	b2 := NewBuilder(0, 0)
	added1 := b2.OnDuplicate("srv", "/root/a.bin", chunks, "/root/copy1.bin", 100, true)
	if !added1 {
		t.Fatal("expected first local-mode copy to be added")
	}

	key := ChunkKey(chunks)
	group := b2.duplicate[key]
	if group[1] != "original@srv:/root/a.bin" {
		t.Fatalf("expected original token intact after first copy, got %q", group[1])
	}

	added2 := b2.OnDuplicate("srv", "/root/a.bin", chunks, "/root/copy2.bin", 100, true)
	if !added2 {
		t.Fatal("expected second local-mode copy to be added")
	}
	group = b2.duplicate[key]
	if group[1] != "original@srv:/root/a.bin" {
		t.Fatalf("expected original token to keep its prefix after second hit, got %q", group[1])
	}
	if len(group) != 4 || group[2] != "/root/copy1.bin" || group[3] != "/root/copy2.bin" {
		t.Fatalf("unexpected group contents after two local-mode hits: %v", group)
	}

	// A later hit whose client path is the bare original path itself (the
	// original resurfacing against a second copy it happens to match) is
	// treated as already present and must not be appended again.
	added3 := b2.OnDuplicate("srv", "/root/a.bin", chunks, "/root/a.bin", 100, true)
	if added3 {
		t.Fatal("expected client path equal to the bare original path to be treated as already present")
	}
	group = b2.duplicate[key]
	if len(group) != 4 {
		t.Fatalf("expected group unchanged when original path resurfaces, got %v", group)
	}
}

func TestSkipScan(t *testing.T) {
	b := NewBuilder(0, 0)
	chunks := []chunkhash.Chunk{{Serial: 1, Hash: "abc"}}
	b.OnDuplicate("srv", "/root/a.bin", chunks, "/root/copy1.bin", 100, true)

	if !b.SkipScan("/root/a.bin") {
		t.Error("expected registered original to be skippable")
	}
	if b.SkipScan("/root/unrelated.bin") {
		t.Error("expected unrelated path to not be skippable")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	b := NewBuilder(0, 0)
	chunks := []chunkhash.Chunk{{Serial: 1, Hash: "abc"}}
	b.OnDuplicate("srv", "/root/a.bin", chunks, "/root/copy1.bin", 100, true)

	r := b.Build("dev-1", true, "127.0.0.1:5555", []string{"/root"})
	path := filepath.Join(t.TempDir(), "report.yaml")
	if err := r.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ID != "dev-1" || !loaded.LocalMode {
		t.Errorf("unexpected loaded report: %+v", loaded)
	}
	if len(loaded.Duplicate) != 1 {
		t.Errorf("expected one duplicate group, got %d", len(loaded.Duplicate))
	}
}
