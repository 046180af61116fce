//go:build linux

package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// errInputStopped is reported when the reader exits because done was closed.
var errInputStopped = errors.New("input reader stopped")

// epollWaitMS bounds each epoll_wait so the reader notices done.
const epollWaitMS = 250

// readInputEventsEpoll reads from multiple input devices using epoll:
// one goroutine, woken by the kernel only when a device has data.
func readInputEventsEpoll(done <-chan struct{}, files []*os.File, events chan<- inputEvent, readErr chan<- error) {
	if len(files) == 0 {
		readErr <- fmt.Errorf("no input devices provided")
		return
	}

	// Create epoll instance
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		readErr <- fmt.Errorf("epoll_create1: %w", err)
		return
	}
	defer unix.Close(epfd)

	// Map file descriptors to files for later identification
	fdToFile := make(map[int]*os.File)

	for _, f := range files {
		fd := int(f.Fd())
		fdToFile[fd] = f

		event := unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(fd),
		}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			readErr <- fmt.Errorf("epoll_ctl_add %s: %w", f.Name(), err)
			return
		}
	}

	// Reusable buffers
	const maxEvents = 32
	epollEvents := make([]unix.EpollEvent, maxEvents)
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf)

	for {
		select {
		case <-done:
			readErr <- errInputStopped
			return
		default:
		}

		n, err := unix.EpollWait(epfd, epollEvents, epollWaitMS)
		if err != nil {
			// Handle interrupted system call (e.g., SIGINT)
			if err == syscall.EINTR {
				continue
			}
			readErr <- fmt.Errorf("epoll_wait: %w", err)
			return
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			f := fdToFile[fd]

			// A device that goes away (unplugged keyboard) is fatal for the reader.
			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				readErr <- fmt.Errorf("device error/hangup: %s (fd=%d)", f.Name(), fd)
				return
			}

			if _, err := f.Read(buf); err != nil {
				readErr <- fmt.Errorf("read from %s: %w", f.Name(), err)
				return
			}

			reader.Reset(buf)
			var ev inputEvent
			if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
				// Skip malformed events
				continue
			}

			select {
			case events <- ev:
			case <-done:
				readErr <- errInputStopped
				return
			}
		}
	}
}
