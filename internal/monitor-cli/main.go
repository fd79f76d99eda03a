package monitorcli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/go-utils/logging"
	arg "github.com/alexflint/go-arg"
	yaml "gopkg.in/yaml.v2"

	"github.com/TheCacophonyProject/ofono-monitor/connrequester"
	modemcontroller "github.com/TheCacophonyProject/ofono-monitor/modem-controller"
	"github.com/TheCacophonyProject/ofono-monitor/modemlistener"
)

type Args struct {
	Status  *subcommand     `arg:"subcommand:status" help:"print the state of every modem"`
	Power   *toggleCommand  `arg:"subcommand:power" help:"power a modem on or off"`
	Online  *toggleCommand  `arg:"subcommand:online" help:"switch a modem radio on or off"`
	Watch   *subcommand     `arg:"subcommand:watch" help:"print modem changes as they happen"`
	Connect *connectCommand `arg:"subcommand:connect" help:"bring modems up and wait for a network registration"`
	logging.LogArgs
}

type toggleCommand struct {
	On  *pathCommand `arg:"subcommand:on" help:"turn on"`
	Off *pathCommand `arg:"subcommand:off" help:"turn off"`
}

type pathCommand struct {
	Path string `arg:"positional,required" help:"modem object path, for example /ril_0"`
}

type connectCommand struct {
	Timeout time.Duration `arg:"--timeout" default:"2m" help:"how long to wait for a registration"`
}

type subcommand struct {
}

var version = "<not set>"
var log = logging.NewLogger("info")

func (Args) Version() string {
	return version
}

func procArgs(input []string) (Args, *arg.Parser, error) {
	var args Args
	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, nil, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return args, parser, err
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, parser, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	log = logging.NewLogger(args.LogLevel)

	switch {
	case args.Status != nil:
		return runStatus(os.Stdout)
	case args.Power != nil:
		return runToggle("powered", args.Power, modemcontroller.SetPowered)
	case args.Online != nil:
		return runToggle("online", args.Online, modemcontroller.SetOnline)
	case args.Watch != nil:
		return runWatch(os.Stdout)
	case args.Connect != nil:
		return runConnect(args.Connect.Timeout)
	}
	parser.WriteHelp(os.Stdout)
	return nil
}

func runStatus(w io.Writer) error {
	log.Debug("Getting modem status")
	modems, err := modemcontroller.GetModems()
	if err != nil {
		return fmt.Errorf("failed to get modem status: %w", err)
	}
	return printYAML(w, modems)
}

func runToggle(name string, cmd *toggleCommand, set func(path string, on bool) error) error {
	var (
		path string
		on   bool
	)
	switch {
	case cmd.On != nil:
		path, on = cmd.On.Path, true
	case cmd.Off != nil:
		path = cmd.Off.Path
	default:
		return errors.New("expected 'on' or 'off'")
	}
	log.Printf("Setting %s %s to %t", path, name, on)
	if err := set(path, on); err != nil {
		return fmt.Errorf("failed to set %s %s: %w", path, name, err)
	}
	return nil
}

func runConnect(timeout time.Duration) error {
	cr := connrequester.NewConnectionRequester(log)
	cr.Start()
	defer cr.Stop()
	log.Printf("Waiting up to %s for a modem to register", timeout)
	if err := cr.WaitUntilUp(timeout); err != nil {
		return err
	}
	log.Println("Modem registered.")
	return nil
}

func runWatch(w io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signals, err := modemlistener.GetModemChangedSignalListener()
	if err != nil {
		return fmt.Errorf("failed to listen for modem changes: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-signals:
			if err := printSignal(w, s); err != nil {
				return err
			}
		}
	}
}

type signalDoc struct {
	Kind  string                 `yaml:"kind"`
	Path  string                 `yaml:"path"`
	State map[string]interface{} `yaml:"state"`
}

func printSignal(w io.Writer, s modemlistener.ModemSignal) error {
	if _, err := io.WriteString(w, "---\n"); err != nil {
		return err
	}
	return printYAML(w, signalDoc{Kind: s.Kind, Path: s.Path, State: s.State})
}

func printYAML(w io.Writer, v interface{}) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
