package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"go.einride.tech/can"

	"can-log-decoder/candecoder"
	"can-log-decoder/utils"
)

var (
	testAssign = filepath.Join("..", "candecoder", "testdata", "bit_assign.csv")
	testLog    = filepath.Join("..", "candecoder", "testdata", "can_log.csv")
)

func TestRunnerDecodesLog(t *testing.T) {
	out := filepath.Join(t.TempDir(), "records.jsonl")
	r, err := NewRunner(context.Background(), RunnerConfig{
		LogPath:    testLog,
		AssignPath: testAssign,
		OutPath:    out,
		Decoder:    candecoder.DefaultConfig(),
	}, utils.NopLogger())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	defer r.Close()

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Decoded != 5 || rep.Skipped != 2 {
		t.Fatalf("unexpected report: %s", rep.Summary())
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	recs, err := candecoder.NewDeserializer().ReadJSONLines(f)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("expected 5 records in output, got %d", len(recs))
	}

	var buf bytes.Buffer
	printSkipped(&buf, rep)
	if !strings.Contains(buf.String(), "2 frames skipped") || !strings.Contains(buf.String(), "line 8") {
		t.Fatalf("unexpected summary %q", buf.String())
	}
}

func TestRunnerStrict(t *testing.T) {
	cfg := candecoder.DefaultConfig()
	cfg.Strict = true
	r, err := NewRunner(context.Background(), RunnerConfig{
		LogPath:    testLog,
		AssignPath: testAssign,
		Decoder:    cfg,
	}, utils.NopLogger())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	defer r.Close()

	if _, err := r.Run(context.Background()); !errors.Is(err, candecoder.ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestRunnerCancelled(t *testing.T) {
	r, err := NewRunner(context.Background(), RunnerConfig{
		LogPath:    testLog,
		AssignPath: testAssign,
		Decoder:    candecoder.DefaultConfig(),
	}, utils.NopLogger())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) || rep.Decoded > 1 {
		t.Fatalf("expected an early stop, got %v after %s", err, rep.Summary())
	}
}

func TestDecoderConfig(t *testing.T) {
	cfg, err := decoderConfig("", "candump")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Log.Kind != candecoder.FormatCandump {
		t.Fatalf("format override ignored: %+v", cfg.Log)
	}
	if _, err := decoderConfig("", "pcap"); err == nil {
		t.Fatalf("expected unknown format error")
	}
	cfg, err = decoderConfig(filepath.Join("..", "candecoder", "testdata", "decoder.toml"), "")
	if err != nil || !cfg.Strict {
		t.Fatalf("config file not applied: %+v %v", cfg, err)
	}
}

type fakeWriter struct {
	frames []can.Frame
}

func (w *fakeWriter) WriteFrame(_ context.Context, frame can.Frame) error {
	w.frames = append(w.frames, frame)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestReplay(t *testing.T) {
	f, err := os.Open(testLog)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	w := &fakeWriter{}
	p := NewReplayRunner(w, candecoder.DefaultConfig(), utils.NopLogger())
	p.Speed = 0
	sent, err := p.Run(context.Background(), f)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if sent != 6 || len(w.frames) != 6 {
		t.Fatalf("expected 6 frames, sent %d", sent)
	}
	if w.frames[0].ID != 0x100 || w.frames[3].ID != 0x7FF || w.frames[4].Length != 1 {
		t.Fatalf("unexpected frames: %v", w.frames)
	}
}

func TestReplayStrict(t *testing.T) {
	cfg := candecoder.DefaultConfig()
	cfg.Strict = true
	w := &fakeWriter{}
	p := NewReplayRunner(w, cfg, utils.NopLogger())
	p.Speed = 0

	f, err := os.Open(testLog)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	sent, err := p.Run(context.Background(), f)
	var fe *candecoder.FrameError
	if !errors.As(err, &fe) || fe.Line != 7 || sent != 4 {
		t.Fatalf("expected to stop at line 7 after 4 frames, got %v after %d", err, sent)
	}
}

func TestReplayKeepsTiming(t *testing.T) {
	log := "timestamp,can_id,dlc,data\n0,100,1,01\n40000000,100,1,02\n"
	w := &fakeWriter{}
	p := NewReplayRunner(w, candecoder.DefaultConfig(), utils.NopLogger())

	start := time.Now()
	if _, err := p.Run(context.Background(), strings.NewReader(log)); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("replay took %v, expected at least the recorded 40ms gap", elapsed)
	}
}

type fakeReader struct {
	frames []can.Frame
	cancel context.CancelFunc
}

func (r *fakeReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	if len(r.frames) == 0 {
		r.cancel()
		return can.Frame{}, ctx.Err()
	}
	f := r.frames[0]
	r.frames = r.frames[1:]
	return f, nil
}

func (r *fakeReader) Close() error { return nil }

func TestCapture(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &fakeReader{
		frames: []can.Frame{
			{ID: 0x100, Length: 3, Data: can.Data{0x03, 0xE8, 0x05}},
			{ID: 0x200, Length: 2, Data: can.Data{0x01, 0x5A}},
		},
		cancel: cancel,
	}

	var buf bytes.Buffer
	c := NewCaptureRunner(reader, &buf, nil, utils.NopLogger())
	c.now = func() time.Time { return time.Unix(0, 1600000000000000000) }
	n, err := c.Run(ctx)
	if !errors.Is(err, context.Canceled) || n != 2 {
		t.Fatalf("expected 2 frames then cancellation, got %d %v", n, err)
	}

	want := "1600000000000000000,100,3,03E805\n1600000000000000000,200,2,015A\n"
	if buf.String() != want {
		t.Fatalf("unexpected capture:\n%s", buf.String())
	}
}

func TestWriteTable(t *testing.T) {
	table := candecoder.Resampled{
		Times:   []time.Time{time.Unix(0, 0), time.Unix(0, 200000000)},
		Signals: []string{"speed", "gear"},
		Values: map[string][]float64{
			"speed": {10, 10.5},
			"gear":  {3, 4},
		},
	}
	var buf bytes.Buffer
	if err := writeTable(&buf, table); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := "time,speed,gear\n1970-01-01T00:00:00Z,10,3\n1970-01-01T00:00:00.2Z,10.5,4\n"
	if buf.String() != want {
		t.Fatalf("unexpected table:\n%s", buf.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	if code := run(context.Background(), "frobnicate", nil); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
	if code := run(context.Background(), "decode", []string{"-loglevel", "error"}); code != 2 {
		t.Fatalf("missing -log should be a usage error, got %d", code)
	}
}

func TestMetricsRouter(t *testing.T) {
	utils.RecordDecodedFrame(2)
	router := metricsRouter(utils.NopLogger())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "candecoder_decode_frames_total") {
		t.Fatalf("decode counters missing from /metrics")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 outside /metrics, got %d", rec.Code)
	}
}
