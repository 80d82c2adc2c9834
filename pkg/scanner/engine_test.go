package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hsp501/sweeper/pkg/netconn"
	"github.com/hsp501/sweeper/pkg/server"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func startServer(t *testing.T, dirs []string) (addr string, stop func()) {
	t.Helper()

	l, err := netconn.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	bind := l.Addr().String()
	l.Close()

	eng := server.New(server.Config{
		ID:     "test-server",
		Dirs:   dirs,
		Bind:   bind,
		HashDB: filepath.Join(t.TempDir(), "server-cache.db"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go eng.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := netconn.Dial(bind); err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return bind, func() {
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		eng.Stop(stopCtx)
	}
}

func TestScannerFindsDuplicateAgainstServer(t *testing.T) {
	serverDir := t.TempDir()
	writeFile(t, filepath.Join(serverDir, "a.bin"), 4096)

	addr, stop := startServer(t, []string{serverDir})
	defer stop()

	clientDir := t.TempDir()
	writeFile(t, filepath.Join(clientDir, "copy.bin"), 4096)

	eng := New(Config{
		ID:         "test-client",
		SessionID:  "sess1",
		Dirs:       []string{clientDir},
		ServerAddr: addr,
		HashDB:     filepath.Join(t.TempDir(), "client-cache.db"),
	})
	if err := eng.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop()

	report := eng.Builder().Build("run1", false, "test-server", []string{clientDir})
	if len(report.Duplicate) != 1 {
		t.Fatalf("duplicate groups = %d, want 1", len(report.Duplicate))
	}
	for _, group := range report.Duplicate {
		found := false
		for _, entry := range group {
			if entry == filepath.Join(clientDir, "copy.bin") {
				found = true
			}
		}
		if !found {
			t.Fatalf("group %v does not list the client copy", group)
		}
	}
}

func TestScannerNoDuplicateForUniqueFile(t *testing.T) {
	serverDir := t.TempDir()
	writeFile(t, filepath.Join(serverDir, "a.bin"), 64)

	addr, stop := startServer(t, []string{serverDir})
	defer stop()

	clientDir := t.TempDir()
	writeFile(t, filepath.Join(clientDir, "unique.bin"), 128)

	eng := New(Config{
		ID:         "test-client",
		SessionID:  "sess2",
		Dirs:       []string{clientDir},
		ServerAddr: addr,
		HashDB:     filepath.Join(t.TempDir(), "client-cache.db"),
	})
	if err := eng.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop()

	report := eng.Builder().Build("run2", false, "test-server", []string{clientDir})
	if len(report.Duplicate) != 0 {
		t.Fatalf("duplicate groups = %d, want 0", len(report.Duplicate))
	}
}
