package zkt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stempelwerk/zeitcore/internal/devicebus"
)

const optionSerialNumber = "~SerialNumber"

const defaultTimeout = 5 * time.Second

// Driver öffnet Sessions zu Terminals. Zustandslos, einer pro Prozess.
type Driver struct{}

func NewDriver() *Driver {
	return &Driver{}
}

var _ devicebus.Driver = (*Driver)(nil)

// Connect wählt das Terminal an, führt den Handshake aus und liest die
// Seriennummer. Geräte ohne Seriennummer laufen unter ihrer Adresse.
func (d *Driver) Connect(ctx context.Context, params devicebus.ConnectParams) (devicebus.Session, error) {
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c, err := dial(ctx, params.Address, timeout)
	if err != nil {
		return nil, err
	}

	reply, err := c.roundTrip(ctx, cmdConnect, nil)
	if err != nil {
		c.close()
		return nil, err
	}
	switch reply.Command {
	case cmdAckOK:
	case cmdAckUnauth:
		c.close()
		return nil, &devicebus.ProtocolError{Op: "handshake", Err: fmt.Errorf("device requires a comm key")}
	default:
		c.close()
		return nil, &devicebus.ProtocolError{Op: "handshake", Err: fmt.Errorf("unexpected reply %d", reply.Command)}
	}
	c.setSessionID(reply.SessionID)

	s := &Session{c: c, loc: params.Location}
	if s.loc == nil {
		s.loc = time.UTC
	}

	serial, err := s.readOption(ctx, optionSerialNumber)
	if err != nil {
		c.close()
		return nil, err
	}
	if serial == "" {
		serial = params.Address
	}
	s.serial = serial

	return s, nil
}

// Session ist eine stehende Verbindung zu einem Terminal
type Session struct {
	c      *client
	loc    *time.Location
	serial string

	closeOnce sync.Once
	closeErr  error
}

var _ devicebus.Session = (*Session)(nil)

func (s *Session) Serial() string {
	return s.serial
}

// Ping gilt als erfolgreich, sobald das Gerät überhaupt antwortet
func (s *Session) Ping(ctx context.Context) error {
	_, err := s.readOption(ctx, optionSerialNumber)
	return err
}

func (s *Session) ListUsers(ctx context.Context) ([]devicebus.RawUser, error) {
	data, err := s.readTable(ctx, cmdUserRRQ)
	if err != nil {
		return nil, err
	}

	rows, err := splitRecords(data, userRecordSize)
	if err != nil {
		return nil, &devicebus.ProtocolError{Op: "users", Err: err}
	}

	users := make([]devicebus.RawUser, 0, len(rows))
	for _, row := range rows {
		u, err := decodeUserRecord(row)
		if err != nil {
			return nil, &devicebus.ProtocolError{Op: "users", Err: err}
		}
		users = append(users, u)
	}
	return users, nil
}

func (s *Session) AttendanceLog(ctx context.Context) ([]devicebus.RawRecord, error) {
	data, err := s.readTable(ctx, cmdAttLogRRQ)
	if err != nil {
		return nil, err
	}

	rows, err := splitRecords(data, attRecordSize)
	if err != nil {
		return nil, &devicebus.ProtocolError{Op: "attlog", Err: err}
	}

	records := make([]devicebus.RawRecord, 0, len(rows))
	for _, row := range rows {
		r, err := decodeAttRecord(row, s.loc)
		if err != nil {
			return nil, &devicebus.ProtocolError{Op: "attlog", Err: err}
		}
		records = append(records, r)
	}
	return records, nil
}

// Subscribe registriert das Live-Abo für Stempelereignisse
func (s *Session) Subscribe(ctx context.Context) (devicebus.EventStream, error) {
	if err := s.command(ctx, cmdRegEvent, uint32LE(efAttLog)); err != nil {
		return nil, err
	}
	return &eventStream{s: s}, nil
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		// Abmelden ist best effort, das Gerät räumt Sessions selbst ab
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.c.roundTrip(ctx, cmdExit, nil)

		s.closeErr = s.c.close()
	})
	return s.closeErr
}

// readTable klammert den Download in Disable/Enable, damit das Gerät
// den Puffer währenddessen nicht fortschreibt
func (s *Session) readTable(ctx context.Context, cmd uint16) ([]byte, error) {
	if err := s.command(ctx, cmdDisableDevice, nil); err != nil {
		return nil, err
	}

	data, err := s.c.readBulk(ctx, cmd)

	if eerr := s.command(ctx, cmdEnableDevice, nil); err == nil && eerr != nil {
		err = eerr
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// command führt ein Kommando aus, das nur mit ACK quittiert wird
func (s *Session) command(ctx context.Context, cmd uint16, data []byte) error {
	reply, err := s.c.roundTrip(ctx, cmd, data)
	if err != nil {
		return err
	}
	if reply.Command != cmdAckOK {
		return &devicebus.ProtocolError{Op: "command", Err: fmt.Errorf("command %d answered %d", cmd, reply.Command)}
	}
	return nil
}

// readOption liest eine einzelne Geräteoption. Leerer String heißt: das
// Gerät kennt die Option nicht.
func (s *Session) readOption(ctx context.Context, name string) (string, error) {
	payload := append([]byte(name), 0)

	reply, err := s.c.roundTrip(ctx, cmdOptionsRRQ, payload)
	if err != nil {
		return "", err
	}

	switch reply.Command {
	case cmdAckOK, cmdAckData:
	case cmdAckError:
		return "", nil
	default:
		return "", &devicebus.ProtocolError{Op: "options", Err: fmt.Errorf("unexpected reply %d", reply.Command)}
	}

	value := cstring(reply.Data)
	if i := strings.IndexByte(value, '='); i >= 0 {
		return strings.TrimSpace(value[i+1:]), nil
	}
	return "", nil
}

// eventStream dekodiert Live-Frames. Für genau einen Konsumenten gedacht.
type eventStream struct {
	s     *Session
	queue []devicebus.RawRecord
}

var _ devicebus.EventStream = (*eventStream)(nil)

func (st *eventStream) Next(ctx context.Context) (devicebus.RawRecord, error) {
	for len(st.queue) == 0 {
		pkt, err := st.s.c.nextEvent(ctx)
		if err != nil {
			return devicebus.RawRecord{}, err
		}

		rows, err := splitRecords(pkt.Data, attRecordSize)
		if err != nil {
			return devicebus.RawRecord{}, &devicebus.ProtocolError{Op: "event", Err: err}
		}
		for _, row := range rows {
			r, err := decodeAttRecord(row, st.s.loc)
			if err != nil {
				return devicebus.RawRecord{}, &devicebus.ProtocolError{Op: "event", Err: err}
			}
			st.queue = append(st.queue, r)
		}
	}

	rec := st.queue[0]
	st.queue = st.queue[1:]
	return rec, nil
}
