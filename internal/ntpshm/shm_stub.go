//go:build !linux

package ntpshm

import "fmt"

func Open(unit int) (*Writer, error) {
	if _, err := Key(unit); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("ntp shm not supported on this platform")
}
