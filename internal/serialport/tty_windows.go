package serialport

import "errors"

// Open is not available on windows; use a tcp:// link instead.
func Open(name string, baud int) (*Port, error) {
	return nil, errors.New("terminal devices are not supported on windows, use tcp://")
}
