package candecoder

import (
	"bufio"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
)

// JSONLinesWriter writes one serialized record per line.
type JSONLinesWriter struct {
	buf    *bufio.Writer
	stream *jsoniter.Stream
	closer io.Closer
}

// CreateJSONLines truncates or creates path.
func CreateJSONLines(path string) (*JSONLinesWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, ioError(err, "create output %s", path)
	}
	w := NewJSONLinesWriter(f)
	w.closer = f
	return w, nil
}

// NewJSONLinesWriter writes to w; Close flushes but does not close w.
func NewJSONLinesWriter(w io.Writer) *JSONLinesWriter {
	buf := bufio.NewWriter(w)
	return &JSONLinesWriter{
		buf:    buf,
		stream: jsoniter.NewStream(recordJSON, buf, 4096),
	}
}

func (w *JSONLinesWriter) WriteRecord(rec CANData) error {
	w.stream.WriteVal(Serialize(rec))
	w.stream.WriteRaw("\n")
	if w.stream.Error != nil {
		return w.stream.Error
	}
	return w.stream.Flush()
}

func (w *JSONLinesWriter) Close() error {
	if err := w.stream.Flush(); err != nil {
		return err
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if w.closer != nil {
		err := w.closer.Close()
		w.closer = nil
		return err
	}
	return nil
}

type multiWriter []RecordWriter

// NewMultiWriter duplicates every record to each of ws. A failing writer
// stops the fan-out for that record.
func NewMultiWriter(ws ...RecordWriter) RecordWriter {
	return multiWriter(ws)
}

func (m multiWriter) WriteRecord(rec CANData) error {
	for _, w := range m {
		if err := w.WriteRecord(rec); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every writer and reports all failures.
func (m multiWriter) Close() error {
	var errs error
	for _, w := range m {
		if err := w.Close(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}
