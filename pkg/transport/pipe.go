package transport

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/test"
	"github.com/pkg/errors"

	"github.com/backkem/yubihsm/pkg/message"
)

// Pipe endpoints. The host side is always endpoint 0.
const (
	HostEndpoint   = 0
	DeviceEndpoint = 1
)

// NetworkCondition configures link behavior simulation.
// Use this to test session recovery under adverse conditions.
type NetworkCondition struct {
	// DropRate is the probability of dropping a host write (0.0 - 1.0).
	DropRate float64

	// DelayMin is the minimum delay to add to each host write.
	DelayMin time.Duration

	// DelayMax is the maximum delay to add to each host write.
	// Actual delay is uniformly distributed between DelayMin and DelayMax.
	DelayMax time.Duration
}

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess enables automatic packet delivery in a background goroutine.
	// Default: true
	AutoProcess bool

	// ProcessInterval is how often the auto-processor checks for packets.
	// Default: 1ms
	ProcessInterval time.Duration
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: 1 * time.Millisecond,
	}
}

// Pipe provides bidirectional in-memory packet communication between the
// host and an in-process device. It wraps pion's test.Bridge and adds
// link condition simulation.
//
// Every Write on one endpoint is delivered as exactly one Read on the
// other, so one encoded message is one packet.
//
// By default, Pipe automatically delivers packets in a background goroutine.
// Use SetAutoProcess(false) or NewPipeWithConfig for manual control.
type Pipe struct {
	bridge *test.Bridge

	mu              sync.RWMutex
	condition       NetworkCondition
	closed          bool
	rng             *rand.Rand
	autoProcess     bool
	processInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
}

// NewPipe creates a new pipe with auto-processing enabled.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a new pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	p := &Pipe{
		bridge:          test.NewBridge(),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		autoProcess:     config.AutoProcess,
		processInterval: config.ProcessInterval,
		stopCh:          make(chan struct{}),
	}

	if config.ProcessInterval == 0 {
		p.processInterval = 1 * time.Millisecond
	}

	if p.autoProcess {
		p.startAutoProcess()
	}

	return p
}

// startAutoProcess starts the background delivery goroutine.
func (p *Pipe) startAutoProcess() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.processInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()
}

// SetAutoProcess enables or disables automatic packet delivery.
// When disabled, you must call Tick() or Process() manually.
func (p *Pipe) SetAutoProcess(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.autoProcess == enabled {
		return
	}

	p.autoProcess = enabled

	if enabled {
		p.stopCh = make(chan struct{})
		p.startAutoProcess()
	} else {
		close(p.stopCh)
		p.wg.Wait()
	}
}

// AutoProcess returns whether auto-processing is enabled.
func (p *Pipe) AutoProcess() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.autoProcess
}

// SetCondition configures link condition simulation for host writes.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// Condition returns the current link condition configuration.
func (p *Pipe) Condition() NetworkCondition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.condition
}

// DropNextWrites silently drops the next n packets written by endpoint.
func (p *Pipe) DropNextWrites(endpoint, n int) {
	p.bridge.DropNextNWrites(endpoint, n)
}

// Filter installs a callback deciding which packets written by endpoint
// are delivered. Returning false drops the packet. A nil keep removes the
// filter.
func (p *Pipe) Filter(endpoint int, keep func([]byte) bool) {
	p.bridge.Filter(endpoint, keep)
}

// Pending returns the number of packets written by endpoint that are
// queued and not yet read.
func (p *Pipe) Pending(endpoint int) int {
	return p.bridge.Len(endpoint)
}

// HostConn returns the host endpoint.
func (p *Pipe) HostConn() net.Conn {
	return p.bridge.GetConn0()
}

// DeviceConn returns the device endpoint.
func (p *Pipe) DeviceConn() net.Conn {
	return p.bridge.GetConn1()
}

// Tick delivers one packet in each direction (if available).
// Returns the number of packets delivered (0, 1, or 2).
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers all queued packets.
// Returns the number of packets delivered.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			break
		}
		count += n
	}
	return count
}

// IsClosed reports whether Close has been called. A closed pipe models an
// unplugged device.
func (p *Pipe) IsClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Close closes both endpoints of the pipe and stops auto-processing.
func (p *Pipe) Close() error {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	if p.autoProcess {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()

	var errs []error
	if err := p.bridge.GetConn0().Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.bridge.GetConn1().Close(); err != nil {
		errs = append(errs, err)
	}
	// Deliver the close to blocked readers.
	p.bridge.Tick()

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// write applies the link condition and writes one packet.
func (p *Pipe) write(conn net.Conn, b []byte) error {
	p.mu.RLock()
	cond := p.condition
	rng := p.rng
	p.mu.RUnlock()

	if cond.DropRate > 0 && rng.Float64() < cond.DropRate {
		return nil
	}

	if cond.DelayMax > 0 {
		delay := cond.DelayMin
		if cond.DelayMax > cond.DelayMin {
			delay += time.Duration(rng.Int63n(int64(cond.DelayMax - cond.DelayMin)))
		}
		if delay > 0 {
			time.Sleep(delay)
		}
	}

	_, err := conn.Write(b)
	return err
}

// drainWait bounds the wait for each stale reply discarded before a write.
const drainWait = 10 * time.Millisecond

// PipeAdapterConfig opens adapters on the host endpoint of a Pipe.
// It implements Opener.
type PipeAdapterConfig struct {
	// Pipe is the link to the device. Required.
	Pipe *Pipe

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Open returns a new adapter on the pipe's host endpoint.
func (c PipeAdapterConfig) Open(ctx context.Context) (Adapter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Pipe == nil || c.Pipe.IsClosed() {
		return nil, ErrClosed
	}

	a := &PipeAdapter{
		pipe: c.Pipe,
		conn: c.Pipe.HostConn(),
	}
	if c.LoggerFactory != nil {
		a.log = c.LoggerFactory.NewLogger("transport-pipe")
	}
	return a, nil
}

// PipeAdapter exchanges messages with an in-process device over a Pipe.
// Closing the adapter leaves the pipe open so another adapter can be opened.
type PipeAdapter struct {
	pipe *Pipe
	conn net.Conn
	log  logging.LeveledLogger

	mu     sync.Mutex
	closed bool
}

// IsOpen reports whether neither the adapter nor the pipe is closed.
func (a *PipeAdapter) IsOpen() bool {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	return !closed && !a.pipe.IsClosed()
}

// SendMessage writes one packet and waits for one packet in reply. The
// context deadline bounds the whole exchange; cancellation unblocks the
// read. Replies still queued from an earlier exchange that timed out are
// discarded before the write.
func (a *PipeAdapter) SendMessage(ctx context.Context, id uuid.UUID, msg []byte) ([]byte, error) {
	if !a.IsOpen() {
		return nil, ErrClosed
	}
	if len(msg) > message.MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	a.drain()

	deadline, _ := ctx.Deadline()
	if err := a.conn.SetDeadline(deadline); err != nil {
		return nil, errors.Wrap(err, "transport-pipe: set deadline")
	}
	stop := context.AfterFunc(ctx, func() {
		a.conn.SetDeadline(time.Now())
	})
	defer stop()

	if a.log != nil {
		a.log.Debugf("uuid=%s sending %d bytes", id, len(msg))
	}
	if err := a.pipe.write(a.conn, msg); err != nil {
		return nil, errors.Wrapf(err, "transport-pipe: uuid=%s: write", id)
	}

	buf := make([]byte, message.MaxMessageSize)
	n, err := a.conn.Read(buf)
	if err != nil {
		var netErr net.Error
		switch {
		case ctx.Err() != nil:
			err = ctx.Err()
		case errors.As(err, &netErr) && netErr.Timeout() && !deadline.IsZero():
			err = context.DeadlineExceeded
		}
		if a.log != nil {
			a.log.Warnf("uuid=%s read failed: %v", id, err)
		}
		return nil, errors.Wrapf(err, "transport-pipe: uuid=%s: read", id)
	}

	if a.log != nil {
		a.log.Debugf("uuid=%s received %d bytes", id, n)
	}
	return buf[:n], nil
}

// drain reads and discards replies the device sent after their request
// gave up waiting.
func (a *PipeAdapter) drain() {
	buf := make([]byte, message.MaxMessageSize)
	for a.pipe.Pending(DeviceEndpoint) > 0 {
		if err := a.conn.SetReadDeadline(time.Now().Add(drainWait)); err != nil {
			return
		}
		n, err := a.conn.Read(buf)
		if err != nil {
			return
		}
		if a.log != nil {
			a.log.Warnf("discarded stale %d byte reply", n)
		}
	}
}

// Close marks the adapter closed.
func (a *PipeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

var _ Adapter = (*PipeAdapter)(nil)
var _ Opener = PipeAdapterConfig{}
