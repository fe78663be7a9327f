// Command tagd serves NFC tags in the reader field to WebSocket clients.
// Clients drive each tag through per-technology operations, the way a
// phone's NFC stack exposes them to apps.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"fyne.io/systray"

	"github.com/dotside-studios/davi-nfc-tagd/buildinfo"
	"github.com/dotside-studios/davi-nfc-tagd/config"
	"github.com/dotside-studios/davi-nfc-tagd/hardware/libnfc"
)

var (
	configFlag      string
	driverFlag      string
	deviceFlag      string
	portFlag        int
	noMDNSFlag      bool
	systrayFlag     bool
	debugFlag       bool
	versionFlag     bool
	listDevicesFlag bool
)

// loadConfig reads the config file if one is given and applies flags that
// were set on the command line over it.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configFlag != "" {
		loaded, err := config.Load(configFlag)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "driver":
			cfg.Driver = driverFlag
		case "device":
			cfg.Device = deviceFlag
		case "port":
			cfg.Port = portFlag
		case "no-mdns":
			cfg.MDNS = !noMDNSFlag
		case "systray":
			cfg.Systray = systrayFlag
		case "debug":
			cfg.Debug = debugFlag
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	flag.StringVar(&configFlag, "config", "", "Path to a YAML config file (optional)")
	flag.StringVar(&driverFlag, "driver", config.DriverSim, "Reader driver: sim, pcsc or libnfc")
	flag.StringVar(&deviceFlag, "device", "", "Reader name or libnfc connection string (optional)")
	flag.IntVar(&portFlag, "port", config.DefaultPort, "Port to listen on")
	flag.BoolVar(&noMDNSFlag, "no-mdns", false, "Do not advertise the server over mDNS")
	flag.BoolVar(&systrayFlag, "systray", false, "Show a system tray icon")
	flag.BoolVar(&debugFlag, "debug", false, "Log every tag operation")
	flag.BoolVar(&versionFlag, "version", false, "Print version information and exit")
	flag.BoolVar(&listDevicesFlag, "list-devices", false, "List libnfc devices and exit")
	flag.Parse()

	if versionFlag {
		fmt.Println(buildinfo.BuildInfo())
		return
	}
	if listDevicesFlag {
		devices, err := libnfc.ListDevices()
		if err != nil {
			log.Fatal(err)
		}
		for _, d := range devices {
			fmt.Println(d)
		}
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	initSentry(cfg.SentryDSN)
	defer flushSentry()

	agent := NewAgent(cfg)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if cfg.Systray {
		go func() {
			<-sigChan
			systray.Quit()
		}()
		NewSystrayApp(agent).Run()
		return
	}

	if err := agent.Start(); err != nil {
		log.Fatalf("Failed to start agent: %v", err)
	}
	<-sigChan
	log.Println("Shutdown signal received, stopping server...")
	agent.Stop()
}
