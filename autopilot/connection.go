package autopilot

import (
	"net"
	"strconv"
	"strings"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// DefaultConnection listens for the autopilot on the usual ground station port.
const DefaultConnection = "127.0.0.1:14550"

const defaultBaudRate = 57600

type transportKind string

const (
	transportUDPServer transportKind = "udpin"
	transportUDPClient transportKind = "udpout"
	transportTCPClient transportKind = "tcp"
	transportSerial    transportKind = "serial"
)

// connection is a parsed connection string.
type connection struct {
	kind    transportKind
	address string
	baud    int
}

// parseConnection understands the following forms:
//
//	host:port              listen for UDP on host:port
//	udpin:host:port        same
//	udp:host:port          same
//	udpout:host:port       send UDP to host:port
//	tcp:host:port          connect over TCP
//	/dev/ttyACM0[:baud]    serial device
//	serial:/dev/ttyS0:baud serial device
func parseConnection(s string, defaultBaud int) (connection, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return connection{}, errors.New("empty connection string")
	}
	if defaultBaud <= 0 {
		defaultBaud = defaultBaudRate
	}

	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "serial:") || strings.HasPrefix(strings.ToUpper(s), "COM") {
		return parseSerial(strings.TrimPrefix(s, "serial:"), defaultBaud)
	}

	kind := transportUDPServer
	if scheme, rest, ok := strings.Cut(s, ":"); ok {
		switch strings.ToLower(scheme) {
		case "udp", "udpin":
			s = rest
		case "udpout":
			kind, s = transportUDPClient, rest
		case "tcp":
			kind, s = transportTCPClient, rest
		}
	}
	if _, _, err := net.SplitHostPort(s); err != nil {
		return connection{}, errors.Wrapf(err, "invalid connection address %q", s)
	}
	return connection{kind: kind, address: s}, nil
}

func parseSerial(s string, defaultBaud int) (connection, error) {
	device, baud := s, defaultBaud
	if i := strings.LastIndex(s, ":"); i >= 0 {
		b, err := strconv.Atoi(s[i+1:])
		if err != nil {
			return connection{}, errors.Wrapf(err, "invalid baud rate in %q", s)
		}
		device, baud = s[:i], b
	}
	if device == "" {
		return connection{}, errors.New("serial connection needs a device")
	}
	if baud <= 0 {
		return connection{}, errors.Errorf("invalid baud rate %d", baud)
	}
	return connection{kind: transportSerial, address: device, baud: baud}, nil
}

// endpoint opens the transport for c. Serial ports are opened here and handed to the node as a
// custom endpoint.
func (c connection) endpoint() (gomavlib.EndpointConf, error) {
	switch c.kind {
	case transportUDPServer:
		return gomavlib.EndpointUDPServer{Address: c.address}, nil
	case transportUDPClient:
		return gomavlib.EndpointUDPClient{Address: c.address}, nil
	case transportTCPClient:
		return gomavlib.EndpointTCPClient{Address: c.address}, nil
	case transportSerial:
		port, err := serial.Open(c.address, &serial.Mode{
			BaudRate: c.baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "cannot open serial port %q", c.address)
		}
		return gomavlib.EndpointCustom{ReadWriteCloser: port}, nil
	default:
		return nil, errors.Errorf("unknown transport %q", c.kind)
	}
}

func (c connection) String() string {
	if c.kind == transportSerial {
		return string(c.kind) + ":" + c.address + ":" + strconv.Itoa(c.baud)
	}
	return string(c.kind) + ":" + c.address
}
