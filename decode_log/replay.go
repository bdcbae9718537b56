package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"can-log-decoder/candecoder"
	"can-log-decoder/utils"
)

// ReplayRunner transmits the frames of a log, keeping the recorded gaps
// scaled by Speed. Speed <= 0 sends as fast as the bus accepts.
type ReplayRunner struct {
	log    *utils.Logger
	writer utils.CANWriter
	format candecoder.LogFormat
	strict bool
	Speed  float64
}

func NewReplayRunner(writer utils.CANWriter, cfg candecoder.Config, log *utils.Logger) *ReplayRunner {
	return &ReplayRunner{
		log:    log,
		writer: writer,
		format: cfg.Log,
		strict: cfg.Strict,
		Speed:  1,
	}
}

// Run sends every frame of r and returns the number transmitted.
func (p *ReplayRunner) Run(ctx context.Context, r io.Reader) (uint64, error) {
	sc := bufio.NewScanner(r)
	var (
		sent    uint64
		line    int
		first   time.Time
		started time.Time
	)
	for sc.Scan() {
		line++
		if line <= p.format.HeaderLines {
			continue
		}
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || (p.format.CommentPrefix != "" && strings.HasPrefix(raw, p.format.CommentPrefix)) {
			continue
		}
		ts, frame, err := candecoder.ParseLine(raw, p.format)
		if err != nil {
			fe := &candecoder.FrameError{Line: line, Raw: raw, Err: err}
			if p.strict {
				return sent, fe
			}
			p.log.Warn("skipping frame: %v", fe)
			continue
		}

		if sent == 0 {
			first, started = ts, time.Now()
		} else if p.Speed > 0 {
			due := started.Add(time.Duration(float64(ts.Sub(first)) / p.Speed))
			if wait := time.Until(due); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					p.log.Warn("Context canceled; stopping replay")
					return sent, ctx.Err()
				case <-timer.C:
				}
			}
		}

		if err := p.writer.WriteFrame(ctx, frame); err != nil {
			return sent, errors.Wrapf(err, "transmit line %d", line)
		}
		sent++
		p.log.Trace("TX line=%d id=0x%X len=%d data=% X", line, frame.ID, frame.Length, frame.Data[:frame.Length])
	}
	if err := sc.Err(); err != nil {
		return sent, errors.Wrap(err, "read replay log")
	}
	p.log.Info("Completed replay. frames_sent=%d", sent)
	return sent, nil
}

func runReplay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	var (
		iface      = fs.String("iface", "vcan0", "SocketCAN interface name")
		logPath    = fs.String("log", "", "CAN log to transmit")
		configPath = fs.String("config", "", "Decoder config (TOML) describing the log format")
		format     = fs.String("format", "", "Override the log format: compact|recorder|candump")
		speed      = fs.Float64("speed", 1, "Playback speed factor; 0 sends without delays")
		strict     = fs.Bool("strict", false, "Stop at the first malformed line")
	)
	lf := addLogFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *logPath == "" {
		fs.Usage()
		return errUsage
	}
	cfg, err := decoderConfig(*configPath, *format)
	if err != nil {
		return err
	}
	if *strict {
		cfg.Strict = true
	}

	log, err := lf.open()
	if err != nil {
		return err
	}
	defer log.Close()

	f, err := os.Open(*logPath)
	if err != nil {
		log.Critical("Startup failed: %v", err)
		return err
	}
	defer f.Close()

	writer, err := utils.NewSocketCANWriter(ctx, *iface)
	if err != nil {
		log.Critical("Startup failed: %v", err)
		return err
	}
	defer writer.Close()

	runner := NewReplayRunner(writer, cfg, log)
	runner.Speed = *speed
	log.Info("replaying %s onto %s at %.2fx", *logPath, *iface, *speed)
	if _, err := runner.Run(ctx, f); err != nil && !errors.Is(err, context.Canceled) {
		log.Critical("Run failed: %v", err)
		return err
	}
	return nil
}
