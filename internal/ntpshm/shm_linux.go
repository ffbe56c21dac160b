//go:build linux

package ntpshm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Open attaches the segment of unit. ntpd must already have created it.
func Open(unit int) (*Writer, error) {
	key, err := Key(unit)
	if err != nil {
		return nil, err
	}
	id, err := unix.SysvShmGet(key, segmentSize, 0)
	if err != nil {
		return nil, fmt.Errorf("shmget NTP%d: %w", unit, err)
	}
	mem, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("shmat NTP%d: %w", unit, err)
	}
	w, err := newWriter(mem, unit, func() error { return unix.SysvShmDetach(mem) })
	if err != nil {
		_ = unix.SysvShmDetach(mem)
		return nil, err
	}
	return w, nil
}
