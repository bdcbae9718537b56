package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/pelletier/go-toml/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"can-log-decoder/candecoder"
	"can-log-decoder/utils"
)

var errUsage = errors.New("usage error")

type RunnerConfig struct {
	LogPath    string
	AssignPath string
	OutPath    string
	MQTT       candecoder.MQTTConfig
	Decoder    candecoder.Config
}

// Runner drives one decoding session from the command line.
type Runner struct {
	cfg     RunnerConfig
	log     *utils.Logger
	dec     *candecoder.Decoder
	outputs []candecoder.RecordWriter
}

func NewRunner(ctx context.Context, cfg RunnerConfig, log *utils.Logger) (*Runner, error) {
	dec, err := candecoder.NewDecoder(cfg.Decoder, log)
	if err != nil {
		return nil, err
	}
	if err := dec.LoadBitAssignList(cfg.AssignPath); err != nil {
		return nil, errors.Wrap(err, "load bit assign list")
	}

	r := &Runner{cfg: cfg, log: log, dec: dec}

	if cfg.OutPath != "" {
		w, err := candecoder.CreateJSONLines(cfg.OutPath)
		if err != nil {
			return nil, err
		}
		r.outputs = append(r.outputs, w)
	}
	if cfg.MQTT.Broker != "" {
		w, err := candecoder.DialMQTT(ctx, cfg.MQTT)
		if err != nil {
			for _, out := range r.outputs {
				_ = out.Close()
			}
			return nil, err
		}
		log.Info("publishing records to %s topic %s", cfg.MQTT.Broker, cfg.MQTT.Topic)
		r.outputs = append(r.outputs, w)
	}
	switch len(r.outputs) {
	case 0:
	case 1:
		dec.SetOutput(r.outputs[0])
	default:
		dec.SetOutput(candecoder.NewMultiWriter(r.outputs...))
	}
	return r, nil
}

// Close releases the session and its outputs.
func (r *Runner) Close() {
	if err := r.dec.CloseCSV(); err != nil {
		r.log.Error("close session: %v", err)
	}
}

// Run decodes the whole log unless ctx is cancelled first.
func (r *Runner) Run(ctx context.Context) (candecoder.Report, error) {
	start := time.Now()
	r.log.Info("decoding %s with %s", r.cfg.LogPath, r.cfg.AssignPath)

	if err := r.dec.OpenCSV(r.cfg.LogPath, ""); err != nil {
		return candecoder.Report{}, err
	}
	for rec := range r.dec.Records() {
		if ctx.Err() != nil {
			break
		}
		if r.log.Enabled(utils.TRACE) {
			r.log.Trace("line %d id=0x%X data=% X signals=%v", rec.Line, rec.CANID, rec.Payload(), rec.Signals)
		}
	}

	rep := r.dec.Report()
	r.log.Info("finished in %s: %s", time.Since(start).Round(time.Millisecond), rep.Summary())
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	return rep, rep.Fatal
}

func printSkipped(w io.Writer, rep candecoder.Report) {
	if rep.Skipped == 0 {
		return
	}
	fmt.Fprintf(w, "%d frames skipped:\n", rep.Skipped)
	for _, fe := range rep.Errors {
		fmt.Fprintf(w, "  %v\n", fe)
	}
	if hidden := rep.Skipped - len(rep.Errors); hidden > 0 {
		fmt.Fprintf(w, "  ... and %d more\n", hidden)
	}
}

func logFormat(name string) (candecoder.LogFormat, error) {
	switch name {
	case "compact":
		return candecoder.CompactLogFormat(), nil
	case "recorder":
		return candecoder.RecorderLogFormat(), nil
	case "candump":
		return candecoder.CandumpLogFormat(), nil
	}
	return candecoder.LogFormat{}, errors.Newf("unknown log format %q", name)
}

// decoderConfig resolves the session config: file or defaults, then the
// -format override.
func decoderConfig(path, format string) (candecoder.Config, error) {
	cfg := candecoder.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = candecoder.LoadConfig(path); err != nil {
			return candecoder.Config{}, err
		}
	}
	if format != "" {
		f, err := logFormat(format)
		if err != nil {
			return candecoder.Config{}, err
		}
		cfg.Log = f
	}
	return cfg, nil
}

// metricsRouter serves the decode counters on /metrics.
func metricsRouter(log *utils.Logger) *gin.Engine {
	utils.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func serveMetrics(addr string, log *utils.Logger) *http.Server {
	server := &http.Server{Addr: addr, Handler: metricsRouter(log)}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server: %v", err)
		}
	}()
	log.Info("serving metrics on %s/metrics", addr)
	return server
}

func runDecode(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	var (
		logPath     = fs.String("log", "", "CAN log to decode")
		assignPath  = fs.String("assign", "", "Bit assign list (.csv, .xlsx or .dbc)")
		configPath  = fs.String("config", "", "Decoder config (TOML)")
		format      = fs.String("format", "", "Override the log format: compact|recorder|candump")
		outPath     = fs.String("out", "", "Write decoded records as JSON lines")
		broker      = fs.String("mqtt-broker", "", "Publish decoded records to this MQTT broker (host:port)")
		topic       = fs.String("mqtt-topic", "can/{id}", "MQTT topic; {id} is replaced by the CAN id")
		clientID    = fs.String("mqtt-client-id", "decode_log", "MQTT client id")
		strict      = fs.Bool("strict", false, "Stop at the first malformed frame")
		metricsAddr = fs.String("metrics-addr", "", "Serve Prometheus metrics on this address")
		printConfig = fs.Bool("print-config", false, "Print the effective decoder config and exit")
	)
	lf := addLogFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := decoderConfig(*configPath, *format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return err
	}
	if *strict {
		cfg.Strict = true
	}
	if *printConfig {
		data, err := toml.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}
	if *logPath == "" || *assignPath == "" {
		fmt.Fprintln(os.Stderr, "decode: -log and -assign are required")
		fs.Usage()
		return errUsage
	}

	log, err := lf.open()
	if err != nil {
		return err
	}
	defer log.Close()

	if *metricsAddr != "" {
		server := serveMetrics(*metricsAddr, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	runner, err := NewRunner(ctx, RunnerConfig{
		LogPath:    *logPath,
		AssignPath: *assignPath,
		OutPath:    *outPath,
		MQTT: candecoder.MQTTConfig{
			Broker:   *broker,
			ClientID: *clientID,
			Topic:    *topic,
		},
		Decoder: cfg,
	}, log)
	if err != nil {
		log.Critical("Startup failed: %v", err)
		return err
	}
	defer runner.Close()

	rep, err := runner.Run(ctx)
	printSkipped(os.Stderr, rep)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Critical("Run failed: %v", err)
		return err
	}
	return nil
}
