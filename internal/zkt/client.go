package zkt

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/stempelwerk/zeitcore/internal/devicebus"
)

// client spricht das Terminal-Protokoll über eine TCP-Verbindung.
// Ein Reader-Goroutine trennt angeforderte Antworten (per ReplyID) von
// unaufgeforderten Live-Frames (cmdRegEvent); dadurch kann ein Ping
// laufen, während das Live-Abo scharf ist.
type client struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration

	mu        sync.Mutex // serialisiert Schreiben, ReplyID, SessionID
	sessionID uint16
	replyID   uint16

	pendingMu sync.Mutex
	pending   map[uint16]chan *packet

	events chan *packet

	done    chan struct{}
	failMu  sync.Mutex
	failErr error
	closed  bool
}

const (
	eventQueueSize = 64
	bulkWindowSize = 64
	maxBulkSize    = 8 << 20 // größter erlaubter Tabellen-Download
)

func dial(ctx context.Context, address string, timeout time.Duration) (*client, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &devicebus.ConnectionError{Op: "dial", Err: err}
	}

	c := &client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: timeout,
		pending: make(map[uint16]chan *packet),
		events:  make(chan *packet, eventQueueSize),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	return c, nil
}

// readLoop ist der einzige Leser der Verbindung
func (c *client) readLoop() {
	for {
		pkt, err := decodePacket(c.reader)
		if err != nil {
			c.fail(&devicebus.ConnectionError{Op: "read", Err: err})
			return
		}

		if pkt.Command == cmdRegEvent {
			select {
			case c.events <- pkt:
			case <-c.done:
				return
			}
			continue
		}

		c.pendingMu.Lock()
		ch := c.pending[pkt.ReplyID]
		c.pendingMu.Unlock()
		if ch == nil {
			// verspätete Antwort, Aufrufer hat aufgegeben
			continue
		}

		select {
		case ch <- pkt:
		case <-c.done:
			return
		}
	}
}

// send schreibt einen Request und registriert den Antwortkanal
func (c *client) send(cmd uint16, data []byte) (uint16, chan *packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.failure(); err != nil {
		return 0, nil, err
	}

	c.replyID++
	rid := c.replyID

	ch := make(chan *packet, bulkWindowSize)
	c.pendingMu.Lock()
	c.pending[rid] = ch
	c.pendingMu.Unlock()

	pkt := &packet{Command: cmd, SessionID: c.sessionID, ReplyID: rid, Data: data}

	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write(pkt.encode()); err != nil {
		c.dropPending(rid)
		return 0, nil, &devicebus.ConnectionError{Op: "write", Err: err}
	}

	return rid, ch, nil
}

func (c *client) await(ctx context.Context, ch chan *packet) (*packet, error) {
	select {
	case pkt := <-ch:
		return pkt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.failure()
	}
}

// roundTrip sendet ein Kommando und wartet auf genau eine Antwort
func (c *client) roundTrip(ctx context.Context, cmd uint16, data []byte) (*packet, error) {
	rid, ch, err := c.send(cmd, data)
	if err != nil {
		return nil, err
	}
	defer c.dropPending(rid)

	return c.await(ctx, ch)
}

// readBulk fährt einen Tabellen-Download: auf den Request antwortet das
// Gerät entweder inline (cmdAckData) oder mit cmdPrepareData + Größe,
// gefolgt von cmdData-Frames; danach wird der Gerätepuffer freigegeben.
func (c *client) readBulk(ctx context.Context, cmd uint16) ([]byte, error) {
	rid, ch, err := c.send(cmd, nil)
	if err != nil {
		return nil, err
	}
	defer c.dropPending(rid)

	first, err := c.await(ctx, ch)
	if err != nil {
		return nil, err
	}

	switch first.Command {
	case cmdAckData:
		return first.Data, nil

	case cmdPrepareData:
		if len(first.Data) < 4 {
			return nil, &devicebus.ProtocolError{Op: "prepare", Err: fmt.Errorf("size field missing")}
		}
		total := binary.LittleEndian.Uint32(first.Data[:4])
		if total > maxBulkSize {
			return nil, &devicebus.ProtocolError{Op: "prepare", Err: fmt.Errorf("announced %d bytes", total)}
		}

		buf := make([]byte, 0, total)
		for uint32(len(buf)) < total {
			pkt, err := c.await(ctx, ch)
			if err != nil {
				return nil, err
			}
			if pkt.Command != cmdData {
				return nil, &devicebus.ProtocolError{Op: "data", Err: fmt.Errorf("unexpected command %d mid-transfer", pkt.Command)}
			}
			buf = append(buf, pkt.Data...)
			if uint32(len(buf)) > total {
				return nil, &devicebus.ProtocolError{Op: "data", Err: fmt.Errorf("device sent %d of %d announced bytes", len(buf), total)}
			}
		}

		if _, err := c.roundTrip(ctx, cmdFreeData, nil); err != nil {
			return nil, err
		}
		return buf, nil

	case cmdAckError, cmdAckUnauth:
		return nil, &devicebus.ProtocolError{Op: "bulk", Err: fmt.Errorf("device refused command %d with %d", cmd, first.Command)}

	default:
		return nil, &devicebus.ProtocolError{Op: "bulk", Err: fmt.Errorf("unexpected reply %d", first.Command)}
	}
}

// nextEvent liefert das nächste unaufgeforderte Live-Frame
func (c *client) nextEvent(ctx context.Context) (*packet, error) {
	select {
	case pkt := <-c.events:
		return pkt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.failure()
	}
}

func (c *client) dropPending(rid uint16) {
	c.pendingMu.Lock()
	delete(c.pending, rid)
	c.pendingMu.Unlock()
}

// fail hinterlegt den ersten Fehler und weckt alle Wartenden
func (c *client) fail(err error) {
	c.failMu.Lock()
	defer c.failMu.Unlock()

	if c.failErr != nil {
		return
	}
	c.failErr = err
	close(c.done)
}

func (c *client) failure() error {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	return c.failErr
}

// close beendet die Verbindung. Idempotent.
func (c *client) close() error {
	c.failMu.Lock()
	if c.closed {
		c.failMu.Unlock()
		return nil
	}
	c.closed = true
	c.failMu.Unlock()

	c.fail(&devicebus.ConnectionError{Op: "close", Err: devicebus.ErrSessionClosed})
	return c.conn.Close()
}

func (c *client) setSessionID(id uint16) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}
