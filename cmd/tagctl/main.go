// Command tagctl is an interactive client for tagd. It finds a server over
// mDNS or takes its URL, mirrors the tags the server reports and drives
// them through the technology sessions.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/chzyer/readline"

	"github.com/dotside-studios/davi-nfc-tagd/buildinfo"
	"github.com/dotside-studios/davi-nfc-tagd/server"
	"github.com/dotside-studios/davi-nfc-tagd/tag"
	"github.com/dotside-studios/davi-nfc-tagd/wire"
)

var (
	urlFlag     string
	browseFlag  time.Duration
	timeoutFlag time.Duration
	versionFlag bool
)

// findServer returns urlFlag, or the first tagd announced on the network.
func findServer() (string, error) {
	if urlFlag != "" {
		return urlFlag, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), browseFlag)
	defer cancel()
	services, err := server.Browse(ctx)
	if err != nil {
		return "", err
	}
	if len(services) == 0 {
		return "", fmt.Errorf("no %s found on the network, pass -url", server.MDNSServiceType)
	}
	for _, s := range services {
		log.Printf("found %s at %s (version %s)", s.Instance, s.URL(), s.Text["version"])
	}
	return services[0].URL(), nil
}

func main() {
	flag.StringVar(&urlFlag, "url", "", "WebSocket URL of the server (default: browse mDNS)")
	flag.DurationVar(&browseFlag, "browse", 2*time.Second, "How long to browse mDNS for a server")
	flag.DurationVar(&timeoutFlag, "timeout", tag.DefaultCallTimeout, "Bound on a single remote call")
	flag.BoolVar(&versionFlag, "version", false, "Print version information and exit")
	flag.Parse()

	if versionFlag {
		fmt.Println(buildinfo.BuildInfo())
		return
	}

	url, err := findServer()
	if err != nil {
		log.Fatal(err)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "tagctl> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		log.Fatalf("failed to create readline: %v", err)
	}
	defer rl.Close()
	log.SetOutput(rl.Stderr())

	// The proxy exists before the client so events that arrive during the
	// dial can already be bound to it.
	var client *server.Client
	proxy := tag.NewProxy(wire.CallerFunc(func(ctx context.Context, req *wire.Request) (*wire.Response, error) {
		return client.Call(ctx, req)
	}))
	proxy.SetCallTimeout(timeoutFlag)
	table := tag.NewTable()
	table.OnChange(func(kind wire.EventKind, _ tag.Ref, h *tag.TagHandle) {
		switch kind {
		case wire.EventTagDiscovered:
			fmt.Fprintf(rl.Stdout(), "Tag %s arrived %v\n", h.UID(), h.Technologies)
		case wire.EventTagLost:
			fmt.Fprintf(rl.Stdout(), "Tag %s left\n", h.UID())
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	client, err = server.Dial(ctx, url, func(ev *wire.Event) { table.HandleEvent(ev, proxy) })
	cancel()
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()
	fmt.Fprintf(rl.Stdout(), "Connected to %s\n", url)

	sh := NewShell(table, rl.Stdout())
	sh.printHelp()
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			return
		}
		select {
		case <-client.Done():
			fmt.Fprintf(rl.Stdout(), "Connection lost: %v\n", client.Err())
			os.Exit(1)
		default:
		}
		if quit := sh.Exec(line); quit {
			return
		}
	}
}
