package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"can-log-decoder/utils"
)

const usage = `usage: decode_log [command] [flags]

commands:
  decode    decode a CAN log into physical signal values (default)
  capture   record frames from a SocketCAN interface into a compact log
  replay    transmit a CAN log onto a SocketCAN interface
  resample  resample decoded JSON lines into a fixed rate table

run "decode_log <command> -h" for the flags of a command.
`

func main() {
	cmd, args := "decode", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, cmd, args)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cmd string, args []string) int {
	var err error
	switch cmd {
	case "decode":
		err = runDecode(ctx, args)
	case "capture":
		err = runCapture(ctx, args)
	case "replay":
		err = runReplay(ctx, args)
	case "resample":
		err = runResample(args)
	case "help":
		fmt.Fprint(os.Stdout, usage)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
	switch {
	case err == nil:
		return 0
	case err == flag.ErrHelp:
		return 0
	case err == errUsage:
		return 2
	default:
		return 1
	}
}

// logFlags are shared by every command.
type logFlags struct {
	level *string
	file  *string
	echo  *bool
}

func addLogFlags(fs *flag.FlagSet) logFlags {
	return logFlags{
		level: fs.String("loglevel", "info", "trace|debug|info|warn|error|critical"),
		file:  fs.String("logfile", "", "Append JSON log entries to this file instead of stderr"),
		echo:  fs.Bool("echo", false, "With -logfile, mirror log entries to stdout"),
	}
}

func (f logFlags) open() (*utils.Logger, error) {
	level := utils.ParseLevel(*f.level)
	if *f.file == "" {
		return utils.NewConsoleLogger(os.Stderr, level), nil
	}
	log, err := utils.NewFileLogger(*f.file, level, *f.echo)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: cannot open " + *f.file + ": " + err.Error() + "\n")
		return nil, err
	}
	return log, nil
}
