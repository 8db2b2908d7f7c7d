package mtx

import (
	"errors"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/ethan/iotc-bridge/pkg/logger"
)

// Event is one record from the relay's event pipe.
type Event struct {
	URI  string
	Kind string // start, stop, ready, notready, read, unread
}

// EventPipe reads the named FIFO the relay's runOn* hooks write to.
// Records are ASCII "<uri>,<event>!" and may arrive batched or split
// across reads, so a partial tail is buffered between reads.
type EventPipe struct {
	path string
	log  *logger.Logger
	file *os.File
	buf  string
}

// OpenEventPipe creates (if needed) and opens the FIFO non-blocking.
// The descriptor is opened read-write so the pipe never sees EOF when a
// writer disconnects.
func OpenEventPipe(path string, log *logger.Logger) (*EventPipe, error) {
	p := &EventPipe{path: path, log: log}
	if err := p.open(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *EventPipe) open() error {
	if err := syscall.Mkfifo(p.path, 0o666); err != nil && !errors.Is(err, os.ErrExist) && !errors.Is(err, syscall.EEXIST) {
		return err
	}
	file, err := os.OpenFile(p.path, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return err
	}
	p.file = file
	return nil
}

// Read waits up to timeout for pipe data and returns the complete
// events it carried. An empty slice means the timeout elapsed quietly.
func (p *EventPipe) Read(timeout time.Duration) []Event {
	if p.file == nil {
		if err := p.open(); err != nil {
			p.log.Error("reopen event pipe", "error", err)
			return nil
		}
	}

	p.file.SetReadDeadline(time.Now().Add(timeout))
	chunk := make([]byte, 128)
	n, err := p.file.Read(chunk)
	if err != nil {
		if os.IsTimeout(err) {
			return nil
		}
		p.log.Error("event pipe read", "error", err)
		p.file.Close()
		p.file = nil
		return nil
	}
	return p.consume(string(chunk[:n]))
}

// consume splits buffered data on the record terminator, keeping the
// trailing partial record for the next read.
func (p *EventPipe) consume(data string) []Event {
	parts := strings.Split(p.buf+data, "!")
	p.buf = strings.TrimSpace(parts[len(parts)-1])

	var events []Event
	for _, record := range parts[:len(parts)-1] {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}
		uri, kind, ok := strings.Cut(record, ",")
		if !ok {
			p.log.Error("unparsable relay event", "record", record)
			continue
		}
		events = append(events, Event{
			URI:  strings.TrimSpace(uri),
			Kind: strings.ToLower(strings.TrimSpace(kind)),
		})
	}
	return events
}

// Close releases the pipe descriptor.
func (p *EventPipe) Close() error {
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}
