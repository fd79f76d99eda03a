/*
ofono-monitor - Tracks cellular modems managed by oFono
Copyright (C) 2019, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package monitord

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/go-config"
	"github.com/TheCacophonyProject/go-utils/logging"
	arg "github.com/alexflint/go-arg"
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/TheCacophonyProject/ofono-monitor/internal/bus"
	"github.com/TheCacophonyProject/ofono-monitor/internal/ofono"
)

type Args struct {
	ConfigDir  string `arg:"-c,--config" help:"path to configuration directory"`
	Timestamps bool   `arg:"-t,--timestamps" help:"include timestamps in log output"`
	logging.LogArgs
}

var version = "<not set>"
var log = logging.NewLogger("info")
var defaultArgs = Args{
	ConfigDir: config.DefaultConfigDir,
}

func (Args) Version() string {
	return version
}

func procArgs(input []string) (Args, error) {
	args := defaultArgs

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
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
	return args, err
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	log = logging.NewLogger(args.LogLevel)
	if args.Timestamps {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	log.Infof("Running version: %s", version)

	conf, err := ParseMonitorConfig(args.ConfigDir)
	if err != nil {
		return err
	}
	log.Printf("%+v", conf)

	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The loop outlives ctx so the Manager can be torn down on it.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	b := bus.NewConn(conn)
	loopDone := make(chan error, 1)
	go func() { loopDone <- b.Run(loopCtx) }()

	m := ofono.NewManager(b,
		ofono.WithLogger(log.Logger),
		ofono.WithService(conf.Service),
		ofono.WithAutoPower(conf.AutoPower),
	)

	log.Println("Starting dbus service.")
	svc, err := startService(conn, b, m)
	if err != nil {
		return err
	}
	go svc.emitSignals(ctx)

	consumers := []func(ofono.Event){logEvent, svc.onEvent}
	if conf.ReportEvents {
		r := newReporter()
		go r.run(ctx)
		consumers = append(consumers, r.onEvent)
	}

	var subErr error
	err = b.Exec(ctx, func() {
		for _, fn := range consumers {
			if _, subErr = m.Subscribe(fn); subErr != nil {
				m.Close()
				return
			}
		}
	})
	if err == nil {
		err = subErr
	}
	if err != nil {
		return fmt.Errorf("failed to start watching modems: %w", err)
	}
	log.Infof("Watching modems on %s", conf.Service)

	select {
	case <-ctx.Done():
		log.Info("Shutting down.")
	case err := <-loopDone:
		return fmt.Errorf("bus loop stopped: %w", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Exec(closeCtx, m.Close); err != nil {
		log.Errorf("Failed to stop watching modems: %v", err)
	}
	stopLoop()
	<-loopDone
	if _, err := conn.ReleaseName(dbusName); err != nil {
		log.Errorf("Failed to release %s: %v", dbusName, err)
	}
	return nil
}
