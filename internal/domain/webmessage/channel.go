package webmessage

import (
	"context"
	"strconv"

	"go.uber.org/zap"
)

// MessageCallback receives messages posted to a started port from the page.
// msg is nil for a null message.
type MessageCallback func(ctx context.Context, msg *Message)

// Channel is the host view of a page MessageChannel. Its ports are only
// reachable through scripts evaluated against the page registry.
type Channel struct {
	id      string
	manager *Manager
	ports   [2]*Port
}

// ID returns the channel id used as the page registry key.
func (c *Channel) ID() string { return c.id }

// Port1 returns the first port.
func (c *Channel) Port1() *Port { return c.ports[0] }

// Port2 returns the second port.
func (c *Channel) Port2() *Port { return c.ports[1] }

// Dispose closes both ports and removes the channel from the page.
func (c *Channel) Dispose(ctx context.Context) error {
	m := c.manager
	m.mu.Lock()
	if m.channels[c.id] != c {
		m.mu.Unlock()
		return nil
	}
	delete(m.channels, c.id)
	for _, p := range c.ports {
		p.closed = true
		p.callback = nil
	}
	m.mu.Unlock()

	_, err := m.evaluate(ctx, disposeScript(m.name, c.id))
	m.record(OpDispose, err)
	return err
}

// Port is one end of a Channel. Once closed or transferred a port stays
// that way.
type Port struct {
	channel *Channel
	index   int

	// guarded by the manager mutex
	started     bool
	closed      bool
	transferred bool
	callback    MessageCallback
}

// Name returns the page property name of the port.
func (p *Port) Name() string { return "port" + strconv.Itoa(p.index+1) }

// Index returns 0 for port1 and 1 for port2.
func (p *Port) Index() int { return p.index }

// Channel returns the owning channel.
func (p *Port) Channel() *Channel { return p.channel }

func (p *Port) String() string { return p.channel.id + "." + p.Name() }

// IsStarted reports whether a callback was set.
func (p *Port) IsStarted() bool {
	p.channel.manager.mu.Lock()
	defer p.channel.manager.mu.Unlock()
	return p.started
}

// IsClosed reports whether the port was closed.
func (p *Port) IsClosed() bool {
	p.channel.manager.mu.Lock()
	defer p.channel.manager.mu.Unlock()
	return p.closed
}

// IsTransferred reports whether the port was handed to the page.
func (p *Port) IsTransferred() bool {
	p.channel.manager.mu.Lock()
	defer p.channel.manager.mu.Unlock()
	return p.transferred
}

func (p *Port) errorf(op string, err error) error {
	return &PortError{Op: op, Port: p.String(), Err: err}
}

// SetWebMessageCallback starts the port: messages the page posts to it
// reach cb. Calling it again on a started port only swaps the callback.
func (p *Port) SetWebMessageCallback(ctx context.Context, cb MessageCallback) error {
	m := p.channel.manager
	m.mu.Lock()
	if p.closed || p.transferred {
		m.mu.Unlock()
		err := p.errorf(OpSetCallback, ErrPortClosedOrTransferred)
		m.record(OpSetCallback, err)
		return err
	}
	p.callback = cb
	if p.started {
		m.mu.Unlock()
		return nil
	}
	p.started = true
	m.mu.Unlock()

	_, err := m.evaluate(ctx, setCallbackScript(m.name, m.postToHost, p))
	if err != nil {
		m.mu.Lock()
		p.started = false
		p.callback = nil
		m.mu.Unlock()
	}
	m.record(OpSetCallback, err)
	return err
}

// PostMessage posts msg to the other end of the channel inside the page,
// transferring the given ports along with it. Every transfer port is
// validated before any is marked transferred, and the marks are dropped
// again if the page rejects the post.
func (p *Port) PostMessage(ctx context.Context, msg *Message, transfer ...*Port) error {
	m := p.channel.manager
	m.mu.Lock()
	if p.closed || p.transferred {
		m.mu.Unlock()
		err := p.errorf(OpPost, ErrPortClosedOrTransferred)
		m.record(OpPost, err)
		return err
	}
	if err := validateTransferLocked(m, OpPost, p, transfer); err != nil {
		m.mu.Unlock()
		m.record(OpPost, err)
		return err
	}
	markTransferredLocked(transfer, true)
	m.mu.Unlock()

	_, err := m.evaluate(ctx, postScript(m.name, p, msg, transfer))
	if err != nil {
		m.mu.Lock()
		markTransferredLocked(transfer, false)
		m.mu.Unlock()
	}
	m.record(OpPost, err)
	return err
}

// Close closes the port. Closing twice is a no-op; closing a transferred
// port fails. The page side is closed best-effort.
func (p *Port) Close(ctx context.Context) error {
	m := p.channel.manager
	m.mu.Lock()
	if p.transferred {
		m.mu.Unlock()
		err := p.errorf(OpClose, ErrPortTransferred)
		m.record(OpClose, err)
		return err
	}
	if p.closed {
		m.mu.Unlock()
		return nil
	}
	p.closed = true
	p.callback = nil
	m.mu.Unlock()

	if _, err := m.evaluate(ctx, closeScript(m.name, p)); err != nil {
		m.logger.Debug("Page port close failed", zap.String("port", p.String()), zap.Error(err))
	}
	m.record(OpClose, nil)
	return nil
}

func validateTransferLocked(m *Manager, op string, source *Port, ports []*Port) error {
	seen := make(map[*Port]struct{}, len(ports))
	for _, t := range ports {
		if _, dup := seen[t]; dup && t != nil {
			return t.errorf(op, ErrDuplicateTransfer)
		}
		seen[t] = struct{}{}
		switch {
		case t == nil || t.channel.manager != m:
			return &PortError{Op: op, Port: "<foreign>", Err: ErrUnknownChannel}
		case t == source:
			return t.errorf(op, ErrSourcePortTransfer)
		case t.started:
			return t.errorf(op, ErrPortStarted)
		case t.closed || t.transferred:
			return t.errorf(op, ErrPortClosedOrTransferred)
		}
	}
	return nil
}

func markTransferredLocked(ports []*Port, transferred bool) {
	for _, t := range ports {
		t.transferred = transferred
	}
}
