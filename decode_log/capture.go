package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"

	"can-log-decoder/candecoder"
	"can-log-decoder/utils"
)

const compactHeader = "timestamp,can_id,dlc,data"

// CaptureRunner appends frames read from the bus to a compact log. With a
// decoder attached each frame is also decoded and traced.
type CaptureRunner struct {
	log    *utils.Logger
	reader utils.CANReader
	out    *bufio.Writer
	dec    *candecoder.Decoder
	now    func() time.Time
}

func NewCaptureRunner(reader utils.CANReader, out io.Writer, dec *candecoder.Decoder, log *utils.Logger) *CaptureRunner {
	return &CaptureRunner{
		log:    log,
		reader: reader,
		out:    bufio.NewWriter(out),
		dec:    dec,
		now:    time.Now,
	}
}

// Run records until ctx is cancelled or the reader fails.
func (c *CaptureRunner) Run(ctx context.Context) (uint64, error) {
	var received uint64
	defer c.out.Flush()

	for {
		frame, err := c.reader.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("Completed capture. frames=%d", received)
				return received, ctx.Err()
			}
			return received, errors.Wrap(err, "capture")
		}
		ts := c.now()
		if _, err := fmt.Fprintln(c.out, candecoder.FormatCompactLine(ts, frame)); err != nil {
			return received, errors.Wrap(err, "write capture")
		}
		received++

		if c.dec != nil && c.log.Enabled(utils.TRACE) {
			rec, err := c.dec.DecodeFrame(ts, frame)
			if err != nil {
				c.log.Trace("RX id=0x%X data=% X: %v", frame.ID, frame.Data[:frame.Length], err)
			} else {
				c.log.Trace("RX id=0x%X data=% X signals=%v", frame.ID, frame.Data[:frame.Length], rec.Signals)
			}
		}
		if received%1000 == 0 {
			if err := c.out.Flush(); err != nil {
				return received, errors.Wrap(err, "flush capture")
			}
			c.log.Debug("captured %d frames", received)
		}
	}
}

func runCapture(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("capture", flag.ContinueOnError)
	var (
		iface      = fs.String("iface", "vcan0", "SocketCAN interface name")
		outPath    = fs.String("out", "capture.csv", "Compact log to append to")
		assignPath = fs.String("assign", "", "Optional bit assign list for live decoding at trace level")
	)
	lf := addLogFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	log, err := lf.open()
	if err != nil {
		return err
	}
	defer log.Close()

	var dec *candecoder.Decoder
	if *assignPath != "" {
		if dec, err = candecoder.NewDecoder(candecoder.DefaultConfig(), log); err != nil {
			return err
		}
		if err := dec.LoadBitAssignList(*assignPath); err != nil {
			log.Critical("Startup failed: %v", err)
			return err
		}
	}

	f, err := os.OpenFile(*outPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Critical("Startup failed: %v", err)
		return err
	}
	defer f.Close()
	if st, err := f.Stat(); err == nil && st.Size() == 0 {
		if _, err := fmt.Fprintln(f, compactHeader); err != nil {
			return err
		}
	}

	reader, err := utils.NewSocketCANReader(ctx, *iface)
	if err != nil {
		log.Critical("Startup failed: %v", err)
		return err
	}
	defer reader.Close()

	log.Info("capturing %s into %s", *iface, *outPath)
	if _, err := NewCaptureRunner(reader, f, dec, log).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Critical("Run failed: %v", err)
		return err
	}
	return nil
}
