//go:build !windows

package serialport

import (
	"fmt"

	"github.com/pkg/term"
)

// Open opens a terminal device in raw mode at baud.
func Open(name string, baud int) (*Port, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	t, err := term.Open(name, term.Speed(baud), term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return newPort(name, t), nil
}
