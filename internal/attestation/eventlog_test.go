package attestation

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aspect-build/attestkit/internal/failure"
)

func writeCCEL(t *testing.T, root string, declared uint64, data []byte) {
	t.Helper()
	table := make([]byte, 56)
	copy(table, "CCEL")
	binary.LittleEndian.PutUint64(table[ccelLengthOffset:], declared)

	for path, content := range map[string][]byte{ccelTablePath: table, ccelDataPath: data} {
		full := filepath.Join(root, path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, content, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestReadEventLog(t *testing.T) {
	root := t.TempDir()
	log := bytes.Repeat([]byte{0xee}, 300)
	writeCCEL(t, root, uint64(len(log)), log)

	got, err := ReadEventLog(root)
	if err != nil {
		t.Fatalf("ReadEventLog: %v", err)
	}
	if !bytes.Equal(got, log) {
		t.Fatal("event log mismatch")
	}
}

func TestReadEventLog_LengthMismatch(t *testing.T) {
	root := t.TempDir()
	writeCCEL(t, root, 10, make([]byte, 9))
	if _, err := ReadEventLog(root); !errors.Is(err, failure.ErrFormat) {
		t.Fatalf("got %v, want format error", err)
	}
}

func TestReadEventLog_Missing(t *testing.T) {
	if _, err := ReadEventLog(t.TempDir()); !errors.Is(err, failure.ErrIO) {
		t.Fatalf("got %v, want io error", err)
	}
}

func TestReadEventLog_ShortTable(t *testing.T) {
	root := t.TempDir()
	full := filepath.Join(root, ccelTablePath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, make([]byte, 44), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadEventLog(root); !errors.Is(err, failure.ErrFormat) {
		t.Fatalf("got %v, want format error", err)
	}
}
