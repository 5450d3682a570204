package session

import (
	"io"

	"go.bug.st/serial"
)

// Transport is the minimal byte-stream contract the session client
// needs from the CDC serial link to the radio node; satisfied by
// *serial.Port and by fakes in tests.
type Transport interface {
	io.ReadWriteCloser
}

// OpenSerial opens the named CDC serial port at the given baud rate,
// grounded on go.bug.st/serial's Mode configuration the way
// skobkin-meshgo and librescoot-bluetooth-service open their radio
// links.
func OpenSerial(portName string, baud int) (Transport, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}
