package socket

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"

	"github.com/codewiresh/trakit/internal/protocol"
)

var (
	framesSent     = metrics.NewCounter(`trakit_socket_frames_total{direction="out"}`)
	framesReceived = metrics.NewCounter(`trakit_socket_frames_total{direction="in"}`)
	bytesSent      = metrics.NewCounter(`trakit_socket_bytes_total{direction="out"}`)
	bytesReceived  = metrics.NewCounter(`trakit_socket_bytes_total{direction="in"}`)
	dialsOK        = metrics.NewCounter(`trakit_socket_dials_total{result="ok"}`)
	dialsFailed    = metrics.NewCounter(`trakit_socket_dials_total{result="error"}`)
)

func recordSent(f *protocol.Frame) {
	framesSent.Inc()
	bytesSent.Add(len(f.Raw))
}

func recordReceived(f *protocol.Frame) {
	framesReceived.Inc()
	bytesReceived.Add(len(f.Raw))
}

func recordConnect(ok bool) {
	if ok {
		dialsOK.Inc()
		return
	}
	dialsFailed.Inc()
}

func recordClose(reason protocol.Reason) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`trakit_socket_closes_total{reason=%q}`, reason.String())).Inc()
}

func recordCommand(p *pending, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.GetOrCreateCounter(fmt.Sprintf(`trakit_socket_commands_total{command=%q,outcome=%q}`, p.command, outcome)).Inc()
	metrics.GetOrCreateHistogram(fmt.Sprintf(`trakit_socket_command_duration_seconds{command=%q}`, p.command)).UpdateDuration(p.started)
}
