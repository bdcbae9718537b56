package main

import (
	"encoding/csv"
	"flag"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"can-log-decoder/candecoder"
)

// writeTable prints one row per window: the window start followed by the
// value of every signal.
func writeTable(w io.Writer, table candecoder.Resampled) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"time"}, table.Signals...)); err != nil {
		return err
	}
	row := make([]string, len(table.Signals)+1)
	for i, ts := range table.Times {
		row[0] = ts.UTC().Format(time.RFC3339Nano)
		for j, name := range table.Signals {
			row[j+1] = strconv.FormatFloat(table.Values[name][i], 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	ns, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, errors.Newf("time %q is neither RFC 3339 nor unix nanoseconds", s)
	}
	return time.Unix(0, ns), nil
}

func runResample(args []string) error {
	fs := flag.NewFlagSet("resample", flag.ContinueOnError)
	var (
		inPath  = fs.String("in", "", "Decoded records (JSON lines, as written by decode -out)")
		outPath = fs.String("out", "", "CSV table to write; stdout when empty")
		signals = fs.String("signals", "", "Comma separated signal names; all when empty")
		fps     = fs.Float64("fps", 5, "Windows per second")
		start   = fs.String("start", "", "First window start (RFC 3339 or unix ns)")
		end     = fs.String("end", "", "Last instant to cover (RFC 3339 or unix ns)")
	)
	lf := addLogFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inPath == "" {
		fs.Usage()
		return errUsage
	}
	log, err := lf.open()
	if err != nil {
		return err
	}
	defer log.Close()

	opts := candecoder.ResampleOptions{FPS: *fps}
	if opts.Start, err = parseTime(*start); err != nil {
		return err
	}
	if opts.End, err = parseTime(*end); err != nil {
		return err
	}
	var names []string
	for _, s := range strings.Split(*signals, ",") {
		if s = strings.TrimSpace(s); s != "" {
			names = append(names, s)
		}
	}

	in, err := os.Open(*inPath)
	if err != nil {
		log.Critical("Startup failed: %v", err)
		return err
	}
	defer in.Close()

	ds := candecoder.NewDeserializer(names...)
	recs, err := ds.ReadJSONLines(in)
	if err != nil {
		log.Critical("Run failed: %v", err)
		return err
	}
	table, err := ds.Resample(recs, opts)
	if err != nil {
		log.Critical("Run failed: %v", err)
		return err
	}

	var out io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if err := writeTable(out, table); err != nil {
		log.Critical("Run failed: %v", err)
		return err
	}
	log.Info("resampled %d records into %d rows at %.2f fps", len(recs), len(table.Times), *fps)
	return nil
}
