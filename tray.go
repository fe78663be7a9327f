package main

import (
	"fmt"
	"net"
	"sync"

	"fyne.io/systray"

	"github.com/dotside-studios/davi-nfc-tagd/buildinfo"
	"github.com/dotside-studios/davi-nfc-tagd/server"
	"github.com/dotside-studios/davi-nfc-tagd/service"
	"github.com/dotside-studios/davi-nfc-tagd/wire"
)

// localIPs returns the IPv4 addresses of the host, loopback excluded.
func localIPs() []string {
	var ips []string
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				ips = append(ips, ipNet.IP.String())
			}
		}
	}
	return ips
}

// SystrayApp shows the agent state in the system tray.
type SystrayApp struct {
	agent *Agent

	mu          sync.Mutex
	unsubscribe func()

	mStatus  *systray.MenuItem
	mURL     *systray.MenuItem
	mTags    *systray.MenuItem
	mLastTag *systray.MenuItem
	mStart   *systray.MenuItem
	mStop    *systray.MenuItem
	mQuit    *systray.MenuItem
}

func NewSystrayApp(agent *Agent) *SystrayApp {
	return &SystrayApp{agent: agent}
}

// Run blocks until the tray quits.
func (s *SystrayApp) Run() {
	systray.Run(s.onReady, s.onExit)
}

func (s *SystrayApp) onReady() {
	systray.SetTitle("tagd")
	systray.SetTooltip(buildinfo.DisplayName + " " + buildinfo.FullVersion())

	s.mStatus = systray.AddMenuItem("Starting...", "Agent status")
	s.mStatus.Disable()
	s.mURL = systray.AddMenuItem("URL: Not running", "WebSocket URL")
	s.mURL.Disable()

	systray.AddSeparator()

	s.mTags = systray.AddMenuItem("Tags: 0", "Tags in the field")
	s.mTags.Disable()
	s.mLastTag = systray.AddMenuItem("Last tag: None", "Most recently discovered tag")
	s.mLastTag.Disable()

	systray.AddSeparator()

	s.mStart = systray.AddMenuItem("Start Agent", "Start the agent")
	s.mStop = systray.AddMenuItem("Stop Agent", "Stop the agent")
	s.mStart.Disable()
	s.mStop.Disable()

	systray.AddSeparator()
	s.mQuit = systray.AddMenuItem("Quit", "Quit the application")

	s.start()
	go s.handleMenuEvents()
}

func (s *SystrayApp) onExit() {
	s.stop()
}

func (s *SystrayApp) start() {
	if err := s.agent.Start(); err != nil {
		s.agent.Logger.Printf("Failed to start agent: %v", err)
		s.mStatus.SetTitle("Failed to Start")
		s.mStart.Enable()
		return
	}
	s.mu.Lock()
	s.unsubscribe = s.agent.Manager.Subscribe(s.onTagEvent)
	s.mu.Unlock()

	s.mStatus.SetTitle(fmt.Sprintf("Running (%s)", s.agent.Config.Driver))
	host := "localhost"
	if ips := localIPs(); len(ips) > 0 {
		host = ips[0]
	}
	s.mURL.SetTitle(fmt.Sprintf("URL: ws://%s:%d%s", host, s.agent.Config.Port, server.WebSocketPath))
	s.updateTags()
	s.mStart.Disable()
	s.mStop.Enable()
}

func (s *SystrayApp) stop() {
	s.mu.Lock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.mu.Unlock()
	s.agent.Stop()
}

func (s *SystrayApp) onTagEvent(ev service.Event) {
	if ev.Kind == wire.EventTagDiscovered && ev.Endpoint != nil {
		s.mLastTag.SetTitle(fmt.Sprintf("Last tag: %X", ev.Endpoint.UID()))
	}
	s.updateTags()
}

func (s *SystrayApp) updateTags() {
	s.mTags.SetTitle(fmt.Sprintf("Tags: %d", s.agent.TagCount()))
}

func (s *SystrayApp) handleMenuEvents() {
	for {
		select {
		case <-s.mStart.ClickedCh:
			s.start()
		case <-s.mStop.ClickedCh:
			s.stop()
			s.mStatus.SetTitle("Stopped")
			s.mURL.SetTitle("URL: Not running")
			s.mTags.SetTitle("Tags: 0")
			s.mStop.Disable()
			s.mStart.Enable()
		case <-s.mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}
