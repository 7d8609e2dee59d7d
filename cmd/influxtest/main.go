// Command influxtest runs a fake InfluxDB server that accepts v1 and v2
// writes, prints every line it receives, and can take UDP datagrams too.
//
// Usage:
//
//	influxtest [flags]
//
// Flags:
//
//	-port      HTTP port to listen on (default: 8086)
//	-host      Host to bind to (default: localhost)
//	-udp-port  UDP port to listen on, 0 disables (default: 0)
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rychale/telemetry-influxdb/influxtest"
)

func main() {
	port := flag.Int("port", 8086, "HTTP port to listen on")
	host := flag.String("host", "localhost", "host to bind to")
	udpPort := flag.Int("udp-port", 0, "UDP port to listen on, 0 disables")
	flag.Parse()

	// Print each accepted line so the server doubles as a live debugging
	// tool.
	server := influxtest.NewServer()
	server.OnWrite(func(req influxtest.WriteRequest) {
		for _, line := range req.Lines {
			fmt.Println(line)
		}
	})
	addr := fmt.Sprintf("%s:%d", *host, *port)

	fmt.Println("InfluxDB Test Server")
	fmt.Println("====================")
	fmt.Printf("Listening on http://%s\n\n", addr)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /ping           - v1 health check")
	fmt.Println("  GET  /health         - v2 health check")
	fmt.Println("  POST /write          - v1 write (?db=name)")
	fmt.Println("  POST /api/v2/write   - v2 write (?org=o&bucket=b)")
	fmt.Println()

	if *udpPort > 0 {
		go listenUDP(fmt.Sprintf("%s:%d", *host, *udpPort))
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		os.Exit(0)
	}()

	log.Fatal(http.ListenAndServe(addr, server.Handler()))
}

func listenUDP(addr string) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		log.Fatalf("listen udp: %v", err)
	}
	fmt.Printf("UDP listener on %s\n", addr)

	buf := make([]byte, 64*1024)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		for _, line := range strings.Split(strings.TrimSpace(string(buf[:n])), "\n") {
			if line != "" {
				fmt.Println(line)
			}
		}
	}
}
