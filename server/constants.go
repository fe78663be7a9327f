package server

import "github.com/dotside-studios/davi-nfc-tagd/buildinfo"

// Clients find the daemon by browsing MDNSServiceType in MDNSDomain.
var (
	MDNSServiceType = "_nfc-tagd._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

const (
	WebSocketPath = "/ws"
	HealthPath    = "/api/v1/health"
)

// The health endpoint is read by browser dashboards on other origins.
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, OPTIONS"
	CORSAllowHeaders = "Content-Type"
)
