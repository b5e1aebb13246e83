package server

import (
	"github.com/VictoriaMetrics/metrics"
)

// Counters exposed over the optional Prometheus endpoint (see the serve
// command). Updated only from connection handlers.
var (
	requestsTotal      = metrics.NewCounter(`torchstate_requests_total`)
	requestErrorsTotal = metrics.NewCounter(`torchstate_request_errors_total`)
	responseBytesTotal = metrics.NewCounter(`torchstate_response_bytes_total`)
)
