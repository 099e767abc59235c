// obloqd drives a DFRobot OBLOQ serial Wi-Fi/MQTT module.
//
// It brings the module up (Wi-Fi, Adafruit IO session, feed subscriptions),
// keeps the session alive, mirrors feeds onto the site MQTT bus and serves
// a small status API. The simulate command emulates a module over TCP for
// development without hardware.
package main

import (
	"fmt"
	"os"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
