package endpoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/punchctl/internal/testutil/testlog"
)

func writePortMap(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ports.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write port map: %v", err)
	}
	return path
}

func TestLoadSpecsOrdersServerFirst(t *testing.T) {
	testlog.Start(t)

	path := writePortMap(t, "client_port2 = 7002\nserver_port = 7000\nclient_port1 = 7001\n")
	specs, err := LoadSpecs(path)
	if err != nil {
		t.Fatalf("load specs: %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("expected 3 specs, got %d", len(specs))
	}
	if specs[0].Name != ServerPortName || specs[0].Port != 7000 {
		t.Fatalf("expected server_port first, got %+v", specs[0])
	}
	if specs[1].Name != "client_port1" || specs[2].Name != "client_port2" {
		t.Fatalf("expected clients in name order, got %+v", specs[1:])
	}
}

func TestLoadSpecsZeroPortRequestsEphemeral(t *testing.T) {
	testlog.Start(t)

	path := writePortMap(t, "server_port = 0\n")
	specs, err := LoadSpecs(path)
	if err != nil {
		t.Fatalf("load specs: %v", err)
	}
	if specs[0].Port != 0 {
		t.Fatalf("expected port 0, got %d", specs[0].Port)
	}
}

func TestLoadSpecsRejectsMissingServerPort(t *testing.T) {
	testlog.Start(t)

	path := writePortMap(t, "client_port1 = 7001\n")
	if _, err := LoadSpecs(path); !errors.Is(err, ErrNoServerPort) {
		t.Fatalf("expected ErrNoServerPort, got %v", err)
	}
}

func TestLoadSpecsRejectsUnprefixedClientName(t *testing.T) {
	testlog.Start(t)

	path := writePortMap(t, "server_port = 7000\nweb = 8080\n")
	if _, err := LoadSpecs(path); !errors.Is(err, ErrInvalidPortName) {
		t.Fatalf("expected ErrInvalidPortName, got %v", err)
	}
}

func TestLoadSpecsRejectsUnnumberedClientName(t *testing.T) {
	testlog.Start(t)

	// A client entry without a number has no record key any client
	// number could ever resolve.
	for _, name := range []string{"client_web", "client_port", "client_port0"} {
		path := writePortMap(t, "server_port = 7000\n"+name+" = 8080\n")
		if _, err := LoadSpecs(path); !errors.Is(err, ErrInvalidPortName) {
			t.Fatalf("%s: expected ErrInvalidPortName, got %v", name, err)
		}
	}
}

func TestLoadSpecsRejectsPortOutOfRange(t *testing.T) {
	testlog.Start(t)

	path := writePortMap(t, "server_port = 70000\n")
	if _, err := LoadSpecs(path); !errors.Is(err, ErrInvalidPort) {
		t.Fatalf("expected ErrInvalidPort, got %v", err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	testlog.Start(t)

	pm := PortMap{
		ServerPortName: {LocalPort: 7000, PublicIP: "203.0.113.9", PublicPort: 12345},
		"client_port1": {LocalPort: 7001, PublicIP: "203.0.113.9", PublicPort: 12346},
		"client_port2": {LocalPort: 7002, PublicIP: "203.0.113.9", PublicPort: 12347},
	}
	txt, err := Encode(pm)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := "server_port=12345," +
		"client_local_port1=7001,client_public_port1=12346," +
		"client_local_port2=7002,client_public_port2=12347"
	if txt != want {
		t.Fatalf("unexpected encoding:\n got %q\nwant %q", txt, want)
	}

	rec, err := Decode(txt)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	view, err := rec.ClientView(2)
	if err != nil {
		t.Fatalf("client view: %v", err)
	}
	if view.ServerPort != 12345 || view.RemotePort != 7002 || view.PublicPort != 12347 {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestEncodeWithoutServerEntryFails(t *testing.T) {
	testlog.Start(t)

	if _, err := Encode(PortMap{"client_port1": {LocalPort: 1, PublicPort: 2}}); !errors.Is(err, ErrNoServerPort) {
		t.Fatalf("expected ErrNoServerPort, got %v", err)
	}
}

func TestDecodeStripsQuotesAndSkipsJunk(t *testing.T) {
	testlog.Start(t)

	rec, err := Decode(`"server_port=12345,whatever,client_local_port1=abc,client_public_port1=99"`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec[ServerPortName] != 12345 {
		t.Fatalf("unexpected server_port: %d", rec[ServerPortName])
	}
	if _, ok := rec["client_local_port1"]; ok {
		t.Fatalf("non-numeric pair should have been skipped")
	}
	if rec["client_public_port1"] != 99 {
		t.Fatalf("unexpected client_public_port1: %d", rec["client_public_port1"])
	}
}

func TestDecodeEmptyRecord(t *testing.T) {
	testlog.Start(t)

	if _, err := Decode(`""`); !errors.Is(err, ErrEmptyRecord) {
		t.Fatalf("expected ErrEmptyRecord, got %v", err)
	}
}

func TestClientViewMissingClient(t *testing.T) {
	testlog.Start(t)

	rec := Record{ServerPortName: 12345}
	if _, err := rec.ClientView(3); !errors.Is(err, ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}
}
