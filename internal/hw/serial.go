package hw

import (
	"fmt"

	"go.bug.st/serial"
)

// OpenSerial opens the remote reader link at 8N1.
func OpenSerial(device string, baud int) (serial.Port, error) {
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("hw: open serial %s: %w", device, err)
	}
	return port, nil
}
