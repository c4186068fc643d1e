//go:build linux

package reactor

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"
)

// closeFD closes a file descriptor.
func closeFD(fd int) error {
	return unix.Close(fd)
}

// createEventFD creates a non-blocking, close-on-exec eventfd.
func createEventFD() (int, error) {
	return unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
}

// createTimerFD creates a non-blocking, close-on-exec CLOCK_MONOTONIC timerfd.
func createTimerFD() (int, error) {
	return unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
}

// readCounter drains an eventfd or timerfd, returning the counter value.
func readCounter(fd int) (uint64, error) {
	var buf [8]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n != len(buf) {
			return 0, unix.EIO
		}
		return binary.NativeEndian.Uint64(buf[:]), nil
	}
}

// writeCounter adds v to an eventfd counter.
func writeCounter(fd int, v uint64) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], v)
	for {
		n, err := unix.Write(fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n != len(buf) {
			return unix.EIO
		}
		return nil
	}
}

// MonotonicNow returns the current CLOCK_MONOTONIC time as an offset from
// the clock's epoch, the reference for absolute timer values.
func MonotonicNow() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Nano())
}
