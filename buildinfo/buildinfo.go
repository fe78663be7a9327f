// Package buildinfo contains application metadata that can be set at build time.
//
// For release builds, use ldflags to set the version:
//
//	go build -ldflags "\
//	  -X github.com/dotside-studios/davi-nfc-tagd/buildinfo.Version=1.0.0 \
//	  -X github.com/dotside-studios/davi-nfc-tagd/buildinfo.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/dotside-studios/davi-nfc-tagd/buildinfo.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package buildinfo

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	Name        = "davi-nfc-tagd"
	DisplayName = "Davi NFC Tag Daemon"
	Description = "NFC tag session daemon"

	// ProtocolVersion is the wire contract revision. It is advertised in
	// the mDNS TXT record and the health response.
	ProtocolVersion = "1"

	// Set through ldflags for releases.
	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// FullVersion is Version followed by the short commit when one is known,
// as in "1.0.0 (abc1234)".
func FullVersion() string {
	if Commit != "" {
		return fmt.Sprintf("%s (%s)", Version, Commit)
	}
	return Version
}

// Release returns the release identifier used by crash reports.
// Example: "davi-nfc-tagd@1.0.0"
func Release() string {
	return fmt.Sprintf("%s@%s", Name, Version)
}

// BuildInfo returns a multi-line string with full build information.
func BuildInfo() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", Name, FullVersion())
	fmt.Fprintf(&sb, "  %s\n", Description)
	fmt.Fprintf(&sb, "  Protocol: %s\n", ProtocolVersion)
	fmt.Fprintf(&sb, "  Go: %s\n", runtime.Version())
	fmt.Fprintf(&sb, "  OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH)
	if BuildTime != "" {
		fmt.Fprintf(&sb, "\n  Built: %s", BuildTime)
	}
	return sb.String()
}

func IsDev() bool {
	return Version == "dev"
}
