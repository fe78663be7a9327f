package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/dotside-studios/davi-nfc-tagd/config"
	"github.com/dotside-studios/davi-nfc-tagd/hardware"
	"github.com/dotside-studios/davi-nfc-tagd/hardware/libnfc"
	"github.com/dotside-studios/davi-nfc-tagd/hardware/pcsc"
	"github.com/dotside-studios/davi-nfc-tagd/hardware/sim"
	"github.com/dotside-studios/davi-nfc-tagd/server"
	"github.com/dotside-studios/davi-nfc-tagd/service"
)

// Agent owns one driver and the manager, dispatcher and server stacked on
// top of it.
type Agent struct {
	Logger *log.Logger
	Config *config.Config

	Driver     hardware.Driver
	Manager    *service.Manager
	Dispatcher *service.Dispatcher
	Server     *server.Server

	cancel  context.CancelFunc
	runDone chan error
}

func NewAgent(cfg *config.Config) *Agent {
	return &Agent{
		Logger: log.New(os.Stderr, "[agent] ", log.LstdFlags),
		Config: cfg,
	}
}

// newDriver builds the driver named by cfg.Driver.
func newDriver(cfg *config.Config) (hardware.Driver, error) {
	switch cfg.Driver {
	case config.DriverSim:
		host := sim.NewHost()
		host.SetIsoDepMaxTransceiveLength(cfg.IsoDepMaxTransceiveLength)
		host.SetExtendedLengthApdus(cfg.ExtendedLengthApdus)
		host.SetReadOnlyTypes(cfg.ReadOnlyTypes...)
		for i, entry := range cfg.Simulate {
			t, err := sim.FromConfig(entry)
			if err != nil {
				return nil, fmt.Errorf("simulate[%d]: %w", i, err)
			}
			host.Seed(t)
		}
		return host, nil
	case config.DriverPCSC:
		d := pcsc.New(cfg.Device, cfg.PollInterval)
		d.SetExtendedLengthApdus(cfg.ExtendedLengthApdus)
		return d, nil
	case config.DriverLibnfc:
		return libnfc.New(cfg.Device, cfg.PollInterval), nil
	}
	return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
}

// Start brings the driver up and serves it. The server runs in the
// background until Stop.
func (a *Agent) Start() error {
	if a.Driver != nil {
		return errors.New("agent is already running")
	}

	driver, err := newDriver(a.Config)
	if err != nil {
		return err
	}
	timeouts, err := a.Config.TechnologyTimeouts()
	if err != nil {
		return err
	}
	opts := []service.Option{service.WithDefaultTimeouts(timeouts)}
	if a.Config.Debug {
		opts = append(opts, service.WithLogger(log.New(os.Stderr, "[manager] ", log.LstdFlags|log.Lmicroseconds)))
	}

	a.Driver = driver
	a.Manager = service.NewManager(driver, opts...)
	a.Dispatcher = service.NewDispatcher(a.Manager)
	a.Dispatcher.OnPanic = func(v any) {
		a.Logger.Printf("handler panic: %v", v)
		capturePanic(v)
	}
	a.Server = server.New(server.Config{
		Dispatcher: a.Dispatcher,
		Port:       a.Config.Port,
		MDNS:       a.Config.MDNS,
	})

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.runDone = make(chan error, 1)
	go func() {
		err := driver.Run(ctx, a.Manager)
		if err != nil {
			a.Logger.Printf("driver %s stopped: %v", a.Config.Driver, err)
		}
		a.runDone <- err
	}()
	go func() {
		if err := a.Server.Start(); err != nil {
			a.Logger.Printf("server: %v", err)
		}
	}()
	a.Logger.Printf("Agent started with %s driver", a.Config.Driver)
	return nil
}

// Stop shuts the server down first so no request races the driver
// teardown.
func (a *Agent) Stop() {
	if a.Driver == nil {
		a.Logger.Println("Agent is not running")
		return
	}
	a.Logger.Println("Stopping agent...")

	a.Server.Stop()
	a.cancel()
	<-a.runDone
	if err := a.Driver.Close(); err != nil {
		a.Logger.Printf("driver close: %v", err)
	}

	a.Driver = nil
	a.Server = nil
	a.Logger.Println("Agent stopped successfully")
}

// TagCount returns how many tags are in the field.
func (a *Agent) TagCount() int {
	if a.Manager == nil {
		return 0
	}
	return len(a.Manager.Snapshot())
}
