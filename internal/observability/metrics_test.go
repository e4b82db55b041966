package observability

import (
	"errors"
	"testing"
	"time"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordPunchAttempt("server_port", 800*time.Millisecond, nil)
	RecordPunchAttempt("client_port1", 0, errors.New("timeout"))
	RecordDNSPublish("TXT", nil)
	RecordDNSPublish("A", errors.New("api down"))
	RecordPollCycle("changed")
	RecordFRPRestart("frps")
	RecordHTTPRequest("punchsrv", "GET", "/health", 200, 12*time.Millisecond)
}
