package candecoder

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "decoder.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata", "decoder.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Strict || cfg.MaxFrameErrors != 10 {
		t.Fatalf("unexpected session options: %+v", cfg)
	}
	if cfg.Columns.Name != "label" || cfg.Columns.ByteOrder != "" || cfg.Columns.IDEncoding != IDHex {
		t.Fatalf("unexpected columns: %+v", cfg.Columns)
	}
	// keys absent from the file keep their defaults
	if cfg.ProgressEvery != DefaultConfig().ProgressEvery {
		t.Fatalf("progress_every lost its default: %d", cfg.ProgressEvery)
	}
	if cfg.Log.HeaderLines != 0 || cfg.Log.TimestampUnit != "ms" || cfg.Log.IDColumn != 1 || cfg.Log.PayloadEncoding != PayloadHex {
		t.Fatalf("unexpected log format: %+v", cfg.Log)
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "strict = true\nstrickt = false\n")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "strickt") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	cases := map[string]string{
		"timestamp unit":  "[log]\ntimestamp_unit = \"fortnight\"\n",
		"log kind":        "[log]\nkind = \"pcap\"\n",
		"payload columns": "[log]\npayload_columns = 9\n",
		"id encoding":     "[columns]\nid_encoding = \"octal\"\n",
		"byte order":      "[columns]\ndefault_byte_order = \"middle\"\n",
		"required column": "[columns]\nscale = \"\"\n",
		"negative errors": "max_frame_errors = -1\n",
		"syntax":          "strict = \n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, body)); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "none.toml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestBuiltinFormatsValidate(t *testing.T) {
	for name, f := range map[string]LogFormat{
		"compact":  CompactLogFormat(),
		"recorder": RecorderLogFormat(),
		"candump":  CandumpLogFormat(),
	} {
		if err := f.Validate(); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
}
