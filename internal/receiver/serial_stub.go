//go:build !linux

package receiver

import "fmt"

func newSerialChannel(cfg Config) (Channel, error) {
	return nil, fmt.Errorf("serial receiver transport is only supported on linux (device %s)", cfg.Device)
}
