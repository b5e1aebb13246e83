package common

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters for the state server.
type ServerConfig struct {
	// Endpoint is the host:port the listening socket binds to.
	Endpoint string

	// TimeoutSecond bounds each connection's socket reads and writes.
	// Zero disables per-connection deadlines.
	TimeoutSecond int64

	// GraceTimeoutSecond bounds how long Stop waits for in-flight
	// connection handlers before force-closing their sockets.
	GraceTimeoutSecond int64

	// MetricsEndpoint optionally exposes Prometheus metrics over HTTP
	// (empty = disabled).
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration.
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("State Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Grace Timeout", fmt.Sprintf("%d sec", c.GraceTimeoutSecond))
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds all configuration parameters for the state client.
type ClientConfig struct {
	// Endpoint is the host:port of the state server.
	Endpoint string

	// TimeoutSecond bounds dialing and each socket read/write of a single
	// request. Zero disables deadlines.
	TimeoutSecond int
}

// String returns a formatted string representation of the client
// configuration.
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", strconv.Itoa(c.TimeoutSecond)+" sec")

	return sb.String()
}
