//go:build linux

package reactor

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// poller wraps one epoll instance. Each registration carries the registry
// slot and generation of its Source, so events for a slot that has since
// been reused are recognised and dropped.
type poller struct {
	eventBuf []unix.EpollEvent
	epfd     int
}

func (p *poller) init(maxEvents int) error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	p.epfd = epfd
	p.eventBuf = make([]unix.EpollEvent, maxEvents)
	return nil
}

func (p *poller) close() error {
	if p.epfd < 0 {
		return nil
	}
	fd := p.epfd
	p.epfd = -1
	return unix.Close(fd)
}

func (p *poller) add(fd int, mask IOMask, slot, gen uint32) error {
	ev := unix.EpollEvent{
		Events: maskToEpoll(mask),
		Fd:     int32(slot),
		Pad:    int32(gen),
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl add fd %d: %w", fd, err)
	}
	return nil
}

func (p *poller) modify(fd int, mask IOMask, slot, gen uint32) error {
	ev := unix.EpollEvent{
		Events: maskToEpoll(mask),
		Fd:     int32(slot),
		Pad:    int32(gen),
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl mod fd %d: %w", fd, err)
	}
	return nil
}

// remove deregisters fd. A descriptor that was already closed, or was never
// registered, is not an error.
func (p *poller) remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == nil || errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
		return nil
	}
	return fmt.Errorf("reactor: epoll_ctl del fd %d: %w", fd, err)
}

// wait blocks for up to timeout milliseconds. EINTR is reported as no
// events, since the Go runtime preempts threads with signals.
func (p *poller) wait(timeout int) ([]unix.EpollEvent, error) {
	n, err := unix.EpollWait(p.epfd, p.eventBuf, timeout)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("reactor: epoll_wait: %w", err)
	}
	return p.eventBuf[:n], nil
}

func maskToEpoll(mask IOMask) uint32 {
	var events uint32
	if mask&MaskIn != 0 {
		events |= unix.EPOLLIN
	}
	if mask&MaskOut != 0 {
		events |= unix.EPOLLOUT
	}
	if mask&MaskErr != 0 {
		events |= unix.EPOLLERR
	}
	if mask&MaskHup != 0 {
		events |= unix.EPOLLHUP
	}
	return events
}

func maskFromEpoll(events uint32) IOMask {
	var mask IOMask
	if events&unix.EPOLLIN != 0 {
		mask |= MaskIn
	}
	if events&unix.EPOLLOUT != 0 {
		mask |= MaskOut
	}
	if events&unix.EPOLLERR != 0 {
		mask |= MaskErr
	}
	if events&unix.EPOLLHUP != 0 {
		mask |= MaskHup
	}
	return mask
}
