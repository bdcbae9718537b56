package candecoder

import (
	"math"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
)

const defaultResampleFPS = 5

type ResampleOptions struct {
	// Signals to resample. Empty means the deserializer's list, or every
	// signal seen when that is empty too.
	Signals []string
	// Zero Start/End default to the first/last record.
	Start time.Time
	End   time.Time
	FPS   float64
}

// Resampled holds one row per window. Values[name][i] belongs to Times[i].
type Resampled struct {
	Times   []time.Time
	Signals []string
	Values  map[string][]float64
}

// Resample averages each signal over consecutive windows of 1/FPS seconds.
// An empty window repeats the previous window's value; before the first
// value it uses the average of values seen before Start, and NaN when there
// is none.
func (ds *Deserializer) Resample(records []CANData, opts ResampleOptions) (Resampled, error) {
	if len(records) == 0 {
		return Resampled{}, deserializationError("no records to resample")
	}
	recs := append([]CANData(nil), records...)
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Timestamp.Before(recs[j].Timestamp) })

	fps := opts.FPS
	if fps <= 0 {
		fps = defaultResampleFPS
	}
	step := time.Duration(float64(time.Second) / fps)
	if step <= 0 {
		return Resampled{}, errors.Newf("fps %v is too high", fps)
	}
	start, end := opts.Start, opts.End
	if start.IsZero() {
		start = recs[0].Timestamp
	}
	if end.IsZero() {
		end = recs[len(recs)-1].Timestamp
	}

	signals := opts.Signals
	if len(signals) == 0 {
		signals = ds.Signals
	}
	if len(signals) == 0 {
		signals = signalNames(recs)
	}

	out := Resampled{Signals: signals, Values: make(map[string][]float64, len(signals))}
	previous := make(map[string]float64, len(signals))

	idx := 0
	winStart := start
	for idx < len(recs) {
		winEnd := winStart.Add(step)
		current := newAccumulator()
		before := newAccumulator()

		for ; idx < len(recs); idx++ {
			rec := recs[idx]
			if !rec.Timestamp.Before(winEnd) {
				break
			}
			acc := current
			if rec.Timestamp.Before(winStart) {
				acc = before
			}
			for _, name := range signals {
				if v, ok := rec.Signals[name]; ok {
					acc.add(name, v)
				}
			}
		}

		for _, name := range signals {
			if avg, ok := before.mean(name); ok {
				previous[name] = avg
			}
			col := out.Values[name]
			if avg, ok := current.mean(name); ok {
				col = append(col, avg)
			} else if len(col) > 0 {
				col = append(col, col[len(col)-1])
			} else if prev, ok := previous[name]; ok {
				col = append(col, prev)
			} else {
				col = append(col, math.NaN())
			}
			out.Values[name] = col
		}
		out.Times = append(out.Times, winStart)

		if idx >= len(recs) || recs[idx].Timestamp.After(end) {
			break
		}
		winStart = winEnd
	}
	return out, nil
}

type accumulator struct {
	sum   map[string]float64
	count map[string]int
}

func newAccumulator() accumulator {
	return accumulator{sum: map[string]float64{}, count: map[string]int{}}
}

func (a accumulator) add(name string, v float64) {
	a.sum[name] += v
	a.count[name]++
}

func (a accumulator) mean(name string) (float64, bool) {
	n := a.count[name]
	if n == 0 {
		return 0, false
	}
	return a.sum[name] / float64(n), true
}

func signalNames(recs []CANData) []string {
	seen := map[string]bool{}
	var names []string
	for _, rec := range recs {
		for name := range rec.Signals {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}
