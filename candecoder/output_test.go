package candecoder

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
)

type failingWriter struct{ closed bool }

func (w *failingWriter) WriteRecord(CANData) error { return errors.New("broken pipe") }

func (w *failingWriter) Close() error {
	w.closed = true
	return errors.New("already gone")
}

func TestMultiWriter(t *testing.T) {
	var a, b bytes.Buffer
	m := NewMultiWriter(NewJSONLinesWriter(&a), NewJSONLinesWriter(&b))
	if err := m.WriteRecord(sampleRecord()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if a.Len() == 0 || a.String() != b.String() {
		t.Fatalf("writers diverged: %q vs %q", a.String(), b.String())
	}

	bad := &failingWriter{}
	m = NewMultiWriter(NewJSONLinesWriter(&a), bad)
	if err := m.WriteRecord(sampleRecord()); err == nil {
		t.Fatalf("expected write error")
	}
	if err := m.Close(); err == nil || !bad.closed {
		t.Fatalf("expected every writer closed and the failure reported, got %v", err)
	}
}

func TestCreateJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	w, err := CreateJSONLines(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := w.WriteRecord(sampleRecord()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.HasSuffix(data, []byte("\n")) || bytes.Count(data, []byte("\n")) != 1 {
		t.Fatalf("expected one json line, got %q", data)
	}

	if _, err := CreateJSONLines(filepath.Join(t.TempDir(), "missing", "out.jsonl")); !errors.Is(err, ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}

func TestMQTTTopicFor(t *testing.T) {
	cfg := MQTTConfig{Topic: "vehicle/can/{id}"}
	if got := cfg.TopicFor(CANData{CANID: 0x1A0}); got != "vehicle/can/1A0" {
		t.Fatalf("unexpected topic %q", got)
	}
}
