package autopilot

import (
	"testing"

	"github.com/bluenviron/gomavlib/v3"
	"go.viam.com/test"
)

func TestParseConnection(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want connection
	}{
		{DefaultConnection, connection{kind: transportUDPServer, address: "127.0.0.1:14550"}},
		{"udpin:0.0.0.0:14550", connection{kind: transportUDPServer, address: "0.0.0.0:14550"}},
		{"udp:0.0.0.0:14551", connection{kind: transportUDPServer, address: "0.0.0.0:14551"}},
		{"udpout:192.168.1.10:14550", connection{kind: transportUDPClient, address: "192.168.1.10:14550"}},
		{"tcp:127.0.0.1:5760", connection{kind: transportTCPClient, address: "127.0.0.1:5760"}},
		{"/dev/ttyAMA0", connection{kind: transportSerial, address: "/dev/ttyAMA0", baud: 921600}},
		{"/dev/ttyACM0:115200", connection{kind: transportSerial, address: "/dev/ttyACM0", baud: 115200}},
		{"serial:/dev/serial0:57600", connection{kind: transportSerial, address: "/dev/serial0", baud: 57600}},
	} {
		got, err := parseConnection(tc.in, 921600)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldResemble, tc.want)
	}

	for _, bad := range []string{"", "  ", "localhost", "tcp:nowhere", "/dev/ttyS0:fast", "serial::57600"} {
		_, err := parseConnection(bad, 57600)
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestConnectionEndpoint(t *testing.T) {
	ep, err := connection{kind: transportUDPServer, address: "127.0.0.1:14550"}.endpoint()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ep, test.ShouldResemble, gomavlib.EndpointUDPServer{Address: "127.0.0.1:14550"})

	ep, err = connection{kind: transportTCPClient, address: "127.0.0.1:5760"}.endpoint()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ep, test.ShouldResemble, gomavlib.EndpointTCPClient{Address: "127.0.0.1:5760"})

	_, err = connection{kind: transportSerial, address: "/dev/does-not-exist", baud: 57600}.endpoint()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	test.That(t, cfg.Validate("autopilot"), test.ShouldBeNil)

	for _, mutate := range []func(*Config){
		func(c *Config) { c.Connection = "" },
		func(c *Config) { c.SystemID = 0 },
		func(c *Config) { c.SystemID = 300 },
		func(c *Config) { c.HeartbeatTimeoutSec = 0 },
		func(c *Config) { c.ParamTimeoutSec = -1 },
		func(c *Config) { c.ParamRetries = 0 },
	} {
		bad := DefaultConfig()
		mutate(&bad)
		test.That(t, bad.Validate("autopilot"), test.ShouldNotBeNil)
	}
}
