package candecoder

import (
	"bufio"
	"iter"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.einride.tech/can"

	"can-log-decoder/utils"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateAnalyzing
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateAnalyzing:
		return "analyzing"
	default:
		return "closed"
	}
}

// RecordWriter receives every record a session emits.
type RecordWriter interface {
	WriteRecord(rec CANData) error
	Close() error
}

const maxLineBytes = 1 << 20

// Decoder is a decoding session over one log file. It is not safe for
// concurrent use; decode files in parallel with one Decoder each and share
// the BitAssignInfo.
type Decoder struct {
	cfg  Config
	log  *utils.Logger
	info *BitAssignInfo

	path  string
	f     *os.File
	sc    *bufio.Scanner
	out   RecordWriter
	line  int
	state State

	report Report
}

func NewDecoder(cfg Config, log *utils.Logger) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "decoder config")
	}
	if log == nil {
		log = utils.NopLogger()
	}
	return &Decoder{cfg: cfg, log: log}, nil
}

func (d *Decoder) State() State { return d.state }

func (d *Decoder) BitAssignInfo() *BitAssignInfo { return d.info }

// LoadBitAssignList replaces the signal table with the one at path.
func (d *Decoder) LoadBitAssignList(path string) error {
	info, err := LoadBitAssignInfo(path, d.cfg.Columns)
	if err != nil {
		return err
	}
	d.log.Debug("loaded %d signal assignments for %d ids from %s", info.Len(), len(info.byID), path)
	d.info = info
	return nil
}

// SetBitAssignInfo installs a table loaded elsewhere, typically shared with
// other sessions.
func (d *Decoder) SetBitAssignInfo(info *BitAssignInfo) {
	d.info = info
}

// SetOutput attaches a writer that receives each emitted record. CloseCSV
// closes it.
func (d *Decoder) SetOutput(w RecordWriter) {
	d.out = w
}

// OpenCSV opens the log at path. A non-empty assignPath (re)loads the signal
// table first. On error the session stays closed and holds nothing.
func (d *Decoder) OpenCSV(path, assignPath string) error {
	if d.state != StateClosed {
		return errors.Wrapf(ErrSessionOpen, "open %s while %s is %s", path, d.path, d.state)
	}
	if assignPath != "" {
		if err := d.LoadBitAssignList(assignPath); err != nil {
			d.releaseOutput()
			return err
		}
	}
	if d.info == nil {
		d.releaseOutput()
		return errors.Wrap(ErrDefinitionFormat, "no bit assign list loaded")
	}

	f, err := os.Open(path)
	if err != nil {
		d.releaseOutput()
		return ioError(err, "open can log %s", path)
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	d.path = path
	d.f = f
	d.sc = sc
	d.line = 0
	d.report = Report{}
	d.state = StateOpen

	for i := 0; i < d.cfg.Log.HeaderLines; i++ {
		if !sc.Scan() {
			break
		}
		d.line++
	}
	d.log.Info("opened %s (%d ids defined)", path, len(d.info.byID))
	return nil
}

// AnalyzeLine decodes one raw log line. Frame level failures come back as a
// *FrameError wrapping ErrMalformedFrame or ErrBitRange.
func (d *Decoder) AnalyzeLine(raw string) (CANData, error) {
	if d.info == nil {
		return CANData{}, errors.Wrap(ErrDefinitionFormat, "no bit assign list loaded")
	}
	ts, frame, err := parseLine(raw, d.cfg.Log)
	if err != nil {
		return CANData{}, &FrameError{Line: d.line, Raw: raw, Err: err}
	}
	rec, err := d.decodeFrame(ts, frame)
	if err != nil {
		return CANData{}, &FrameError{Line: d.line, Raw: raw, Err: err}
	}
	rec.Line = d.line
	return rec, nil
}

// DecodeFrame decodes a frame that did not come from a log line, such as one
// received from a live bus.
func (d *Decoder) DecodeFrame(ts time.Time, frame can.Frame) (CANData, error) {
	if d.info == nil {
		return CANData{}, errors.Wrap(ErrDefinitionFormat, "no bit assign list loaded")
	}
	return d.decodeFrame(ts, frame)
}

func (d *Decoder) decodeFrame(ts time.Time, frame can.Frame) (CANData, error) {
	assigns := d.info.BitAssignsFromCANID(frame.ID)
	rec := CANData{
		Timestamp: ts,
		CANID:     frame.ID,
		Signals:   make(map[string]float64, len(assigns)),
		Frame:     frame,
	}
	payload := frame.Data[:frame.Length]

	var (
		selector    int64
		hasSelector bool
	)
	for _, ba := range assigns {
		if ba.Mux != MuxSelector {
			continue
		}
		raw, err := ExtractRaw(payload, ba)
		if err != nil {
			return CANData{}, err
		}
		selector, hasSelector = raw, true
		break
	}

	for _, ba := range assigns {
		if ba.Mux == MuxVariant && (!hasSelector || uint64(selector) != ba.MuxValue) {
			continue
		}
		v, err := UnpackData(payload, ba)
		if err != nil {
			return CANData{}, err
		}
		rec.Signals[ba.Name] = v
	}
	return rec, nil
}

// Records streams the open log in input order. Frames with per-frame errors
// are skipped and recorded in the Report unless the config is strict. The
// session is closed when the input ends, on a fatal error, or when the
// consumer stops early. Iterating a closed session yields nothing; reopen to
// start over.
func (d *Decoder) Records() iter.Seq[CANData] {
	return func(yield func(CANData) bool) {
		if d.state != StateOpen {
			return
		}
		defer d.CloseCSV()

		for {
			if d.state == StateClosed {
				return
			}
			if !d.sc.Scan() {
				break
			}
			d.line++
			raw := d.sc.Text()
			trimmed := strings.TrimSpace(raw)
			if trimmed == "" || (d.cfg.Log.CommentPrefix != "" && strings.HasPrefix(trimmed, d.cfg.Log.CommentPrefix)) {
				continue
			}
			d.report.Lines++
			utils.DecodeLines.Inc()

			d.state = StateAnalyzing
			rec, err := d.AnalyzeLine(raw)
			d.state = StateOpen
			if err != nil {
				var fe *FrameError
				if !errors.As(err, &fe) || !IsFrameError(fe) {
					d.fail(err)
					return
				}
				d.recordFrameError(fe)
				if d.cfg.Strict {
					d.fail(fe)
					return
				}
				continue
			}

			if len(d.info.BitAssignsFromCANID(rec.CANID)) == 0 {
				d.report.Undefined++
				if d.cfg.DropUndefined {
					continue
				}
			}
			if d.out != nil {
				if err := d.out.WriteRecord(rec); err != nil {
					d.fail(ioError(err, "write record for line %d", d.line))
					return
				}
			}
			d.report.Decoded++
			utils.RecordDecodedFrame(len(rec.Signals))
			if d.cfg.ProgressEvery > 0 && d.report.Lines%d.cfg.ProgressEvery == 0 {
				d.log.Debug("%d lines decoded", d.report.Lines)
			}

			if !yield(rec) {
				return
			}
		}
		if err := d.sc.Err(); err != nil {
			d.fail(ioError(err, "read %s at line %d", d.path, d.line+1))
		}
	}
}

// AnalyzeCSV opens path and returns its record stream.
func (d *Decoder) AnalyzeCSV(path, assignPath string) (iter.Seq[CANData], error) {
	if err := d.OpenCSV(path, assignPath); err != nil {
		return nil, err
	}
	return d.Records(), nil
}

func (d *Decoder) recordFrameError(fe *FrameError) {
	d.report.Skipped++
	utils.RecordSkippedFrame(fe.Reason())
	if len(d.report.Errors) < d.cfg.MaxFrameErrors {
		d.report.Errors = append(d.report.Errors, fe)
	}
	d.log.Warn("skipping frame: %v", fe)
}

func (d *Decoder) fail(err error) {
	d.report.Fatal = err
	d.log.Error("decoding %s stopped: %v", d.path, err)
	_ = d.CloseCSV()
}

func (d *Decoder) releaseOutput() error {
	if d.out == nil {
		return nil
	}
	err := d.out.Close()
	d.out = nil
	return err
}

// CloseCSV releases the input and output handles. It is safe to call any
// number of times.
func (d *Decoder) CloseCSV() error {
	if d.state == StateClosed {
		return d.releaseOutput()
	}
	var errs error
	if d.f != nil {
		if err := d.f.Close(); err != nil {
			errs = errors.CombineErrors(errs, ioError(err, "close %s", d.path))
		}
	}
	if err := d.releaseOutput(); err != nil {
		errs = errors.CombineErrors(errs, ioError(err, "close output"))
	}
	d.f = nil
	d.sc = nil
	d.state = StateClosed

	d.log.Info("closed %s: %s", d.path, d.report.Summary())
	if d.report.Skipped > 0 {
		d.log.Warn("%d frames skipped in %s", d.report.Skipped, d.path)
	}
	return errs
}

// Report returns the summary of the current or last session.
func (d *Decoder) Report() Report {
	r := d.report
	r.Errors = append([]*FrameError(nil), d.report.Errors...)
	return r
}
