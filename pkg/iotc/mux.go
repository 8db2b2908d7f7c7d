package iotc

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethan/iotc-bridge/pkg/logger"
	"github.com/ethan/iotc-bridge/pkg/protocol"
	"github.com/ethan/iotc-bridge/pkg/tutk"
)

// IOCtlChannel is the slice of the native binding the mux needs.
type IOCtlChannel interface {
	AVSendIOCtl(ch int32, ctrlType uint32, data []byte) error
	AVRecvIOCtl(ch int32, timeoutMS uint32) (int32, uint32, []byte)
}

// ErrResultTimeout is returned when a future's response does not arrive
// within the caller's deadline.
var ErrResultTimeout = fmt.Errorf("timed out waiting for camera response")

type muxResp struct {
	length   int32
	ctrlType uint32
	protocol uint16
	payload  []byte
}

// Future is the pending response to one control message. Its result is
// delivered exactly once by the mux listener.
type Future struct {
	req  protocol.Message
	ch   chan muxResp
	err  error
	mux  *Mux
	resp *muxResp
}

// Result blocks up to timeout for the camera's response and decodes it
// with the request's response decoder. A request with no expected
// response resolves immediately to nil.
func (f *Future) Result(timeout time.Duration) (any, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.req.ParseResponse(f.resp.payload)
	}
	if f.req.ResponseCode() == 0 {
		return nil, nil
	}

	select {
	case resp := <-f.ch:
		f.resp = &resp
		return f.req.ParseResponse(resp.payload)
	case <-f.mux.done:
		if err := f.mux.listenErr(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("mux closed before response to code %d", f.req.Code())
	case <-time.After(timeout):
		f.mux.cancel(f)
		return nil, ErrResultTimeout
	}
}

// ResponseProtocol returns the protocol version the camera stamped on
// the response header. Valid after Result has succeeded.
func (f *Future) ResponseProtocol() uint16 {
	if f.resp == nil {
		return 0
	}
	return f.resp.protocol
}

// Mux correlates control-channel requests with their responses on a
// single AV channel. Responses are demultiplexed by the response code
// each request declares; per code, delivery is FIFO.
type Mux struct {
	tr  IOCtlChannel
	ch  int32
	log *logger.Logger

	mu      sync.Mutex
	pending map[uint16][]*Future
	err     error

	sendMu sync.Mutex

	stop chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// NewMux creates a mux over an AV channel. Call Start before sending and
// Stop before the channel is closed; a listener left running against a
// closed channel can deadlock in the native receive.
func NewMux(tr IOCtlChannel, ch int32, log *logger.Logger) *Mux {
	return &Mux{
		tr:      tr,
		ch:      ch,
		log:     log,
		pending: make(map[uint16][]*Future),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the listener task.
func (m *Mux) Start() {
	m.wg.Add(1)
	go m.listen()
}

// Stop signals the listener and waits for it to exit.
func (m *Mux) Stop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	m.wg.Wait()
}

// Send encodes and transmits a message, returning a future for its
// response. A failed native send pre-fails the future.
func (m *Mux) Send(msg protocol.Message) *Future {
	fut := &Future{req: msg, mux: m, ch: make(chan muxResp, 1)}
	encoded := msg.Encode()
	m.log.DebugIOCtlMessage("send", msg.Code(), len(encoded)-protocol.HeaderLen)

	if code := msg.ResponseCode(); code != 0 {
		m.mu.Lock()
		m.pending[code] = append(m.pending[code], fut)
		m.mu.Unlock()
	}

	m.sendMu.Lock()
	err := m.tr.AVSendIOCtl(m.ch, tutk.IOTypeUserDefinedStart, encoded)
	m.sendMu.Unlock()
	if err != nil {
		m.cancel(fut)
		fut.err = err
	}
	return fut
}

// WaitFor resolves a set of futures within one shared deadline and
// returns their results in request order.
func (m *Mux) WaitFor(futures []*Future, timeout time.Duration) ([]any, error) {
	deadline := time.Now().Add(timeout)
	results := make([]any, len(futures))
	for i, fut := range futures {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return results, ErrResultTimeout
		}
		res, err := fut.Result(remaining)
		if err != nil {
			return results, err
		}
		results[i] = res
	}
	return results, nil
}

func (m *Mux) listen() {
	defer m.wg.Done()
	defer close(m.done)

	m.log.DebugIOCtl("listening", "channel", m.ch)
	for {
		select {
		case <-m.stop:
			m.log.DebugIOCtl("listener stopped", "channel", m.ch)
			return
		default:
		}

		n, ctrlType, data := m.tr.AVRecvIOCtl(m.ch, 1000)
		switch {
		case n == tutk.AVErrTimeout:
			continue
		case n == tutk.AVErrSessionCloseByRemote:
			m.log.Warn("connection closed by remote")
			return
		case n == tutk.AVErrRemoteTimeoutDisconnect:
			m.log.Warn("connection closed, no response from remote")
			return
		case n < 0:
			m.setErr(tutk.NewError(n))
			return
		}

		header, payload, err := protocol.Decode(data)
		if err != nil {
			m.log.Warn("undecodable control message", "error", err)
			continue
		}
		m.log.DebugIOCtlMessage("recv", header.Code, len(payload))
		m.deliver(header, muxResp{length: n, ctrlType: ctrlType, protocol: header.Protocol, payload: payload})
	}
}

func (m *Mux) deliver(header protocol.Header, resp muxResp) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.pending[header.Code]
	if len(queue) == 0 {
		m.log.DebugIOCtl("unsolicited response dropped", "code", header.Code)
		return
	}
	fut := queue[0]
	m.pending[header.Code] = queue[1:]
	fut.ch <- resp
}

// cancel removes a future from its pending queue after a timeout or a
// failed send.
func (m *Mux) cancel(f *Future) {
	code := f.req.ResponseCode()
	if code == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.pending[code]
	for i, pending := range queue {
		if pending == f {
			m.pending[code] = append(queue[:i], queue[i+1:]...)
			return
		}
	}
}

func (m *Mux) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *Mux) listenErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}
