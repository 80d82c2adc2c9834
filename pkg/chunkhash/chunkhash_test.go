package chunkhash

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, size int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "f.bin")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	buf := make([]byte, 4096)
	for i := range buf {
		buf[i] = byte(i)
	}
	var written int64
	for written < size {
		n := int64(len(buf))
		if size-written < n {
			n = size - written
		}
		if _, err := f.Write(buf[:n]); err != nil {
			t.Fatalf("write: %v", err)
		}
		written += n
	}
	return path
}

func TestBlocksAndBlockSizeSumToFileSize(t *testing.T) {
	sizes := []int64{1, HeadSize, HeadSize + 1, HeadSize + BodySize, HeadSize + 3*BodySize + 17}

	for _, size := range sizes {
		b := Blocks(size)
		var sum int64
		for s := 1; s <= b; s++ {
			sum += BlockSize(size, s)
		}
		if sum != size {
			t.Errorf("size %d: block sizes summed to %d", size, sum)
		}
		if got := BlockSize(size, 1); got != min64(size, HeadSize) {
			t.Errorf("size %d: head block size = %d, want %d", size, got, min64(size, HeadSize))
		}
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func TestBlockHashLengthsAndFileHash(t *testing.T) {
	path := writeTempFile(t, HeadSize+BodySize/1024+500)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	size := info.Size()

	for s := 1; s <= Blocks(size); s++ {
		_, n, err := BlockHash(path, size, s)
		if err != nil {
			t.Fatalf("BlockHash: %v", err)
		}
		if n != BlockSize(size, s) {
			t.Errorf("serial %d: read %d bytes, want %d", s, n, BlockSize(size, s))
		}
	}

	whole, err := FileHash(path)
	if err != nil {
		t.Fatalf("FileHash: %v", err)
	}

	recomputed := md5.New()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	recomputed.Write(data)
	want := hex.EncodeToString(recomputed.Sum(nil))
	if whole != want {
		t.Errorf("FileHash = %s, want %s", whole, want)
	}
}

func TestBlockHashTruncationNotError(t *testing.T) {
	// The declared size (100) exceeds the 10 bytes on disk, so the read hits
	// EOF before the nominal end of chunk 1.
	path := writeTempFile(t, 10)
	digest, n, err := BlockHash(path, 100, 1)
	if err != nil {
		t.Fatalf("BlockHash: %v", err)
	}
	if n != 10 {
		t.Fatalf("n = %d, want 10", n)
	}
	if digest == "" {
		t.Fatal("expected non-empty digest")
	}
}

func TestIsDenseSerialPrefix(t *testing.T) {
	ok := []Chunk{{Serial: 1, Hash: "a"}, {Serial: 2, Hash: "b"}}
	if !IsDenseSerialPrefix(ok) {
		t.Error("expected dense prefix to be valid")
	}

	gap := []Chunk{{Serial: 1, Hash: "a"}, {Serial: 3, Hash: "b"}}
	if IsDenseSerialPrefix(gap) {
		t.Error("expected gap to be invalid")
	}
}

func TestDigestConcatDeterministic(t *testing.T) {
	a := []Chunk{{Serial: 1, Hash: "aa"}, {Serial: 2, Hash: "bb"}}
	b := []Chunk{{Serial: 1, Hash: "aa"}, {Serial: 2, Hash: "bb"}}
	if DigestConcat(a) != DigestConcat(b) {
		t.Error("expected identical chunk sequences to produce identical keys")
	}

	c := []Chunk{{Serial: 1, Hash: "aa"}, {Serial: 2, Hash: "cc"}}
	if DigestConcat(a) == DigestConcat(c) {
		t.Error("expected different chunk sequences to produce different keys")
	}
}
