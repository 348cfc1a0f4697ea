package zkt

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Transport-Envelope (8 Bytes) + Command Header (8 Bytes) + Data.
// Alles Little-Endian; die Terminals sprechen LE auf dem ganzen Draht.
type packet struct {
	Command   uint16 // 2 Bytes - Kommando bzw. ACK-Code
	SessionID uint16 // 2 Bytes - vom Gerät beim Connect vergeben
	ReplyID   uint16 // 2 Bytes - Request/Response Korrelation
	Data      []byte // Variable Länge
}

// Transport-Kennung, auf dem Draht die Bytes 50 50 82 7D
const (
	transportTagLo = 0x5050
	transportTagHi = 0x7D82
)

const (
	headerSize    = 8
	envelopeSize  = 8
	maxPacketSize = 64 * 1024
)

// Kommandos
const (
	cmdConnect       = 1000
	cmdExit          = 1001
	cmdEnableDevice  = 1002
	cmdDisableDevice = 1003

	cmdAckOK      = 2000
	cmdAckError   = 2001
	cmdAckData    = 2002
	cmdAckUnauth  = 2005

	cmdPrepareData = 1500
	cmdData        = 1501
	cmdFreeData    = 1502

	cmdUserRRQ    = 9    // Benutzerverzeichnis lesen
	cmdOptionsRRQ = 11   // einzelne Option lesen (~SerialNumber etc.)
	cmdAttLogRRQ  = 13   // Stempelpuffer lesen
	cmdRegEvent   = 500  // Live-Events abonnieren / Push vom Gerät
)

// Event-Maske für cmdRegEvent
const efAttLog = 1

// Encode erstellt das komplette TCP Frame inkl. Envelope und Checksumme
func (p *packet) encode() []byte {
	body := make([]byte, headerSize+len(p.Data))
	binary.LittleEndian.PutUint16(body[0:2], p.Command)
	// Checksumme (body[2:4]) bleibt erst 0
	binary.LittleEndian.PutUint16(body[4:6], p.SessionID)
	binary.LittleEndian.PutUint16(body[6:8], p.ReplyID)
	copy(body[headerSize:], p.Data)
	binary.LittleEndian.PutUint16(body[2:4], checksum(body))

	frame := make([]byte, envelopeSize+len(body))
	binary.LittleEndian.PutUint16(frame[0:2], transportTagLo)
	binary.LittleEndian.PutUint16(frame[2:4], transportTagHi)
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(body)))
	copy(frame[envelopeSize:], body)

	return frame
}

// decodePacket liest genau ein Frame vom Stream
func decodePacket(r io.Reader) (*packet, error) {
	envelope := make([]byte, envelopeSize)
	if _, err := io.ReadFull(r, envelope); err != nil {
		return nil, err
	}

	if binary.LittleEndian.Uint16(envelope[0:2]) != transportTagLo ||
		binary.LittleEndian.Uint16(envelope[2:4]) != transportTagHi {
		return nil, fmt.Errorf("bad transport tag: % X", envelope[0:4])
	}

	length := binary.LittleEndian.Uint32(envelope[4:8])
	if length < headerSize {
		return nil, fmt.Errorf("frame too short: %d bytes", length)
	}
	if length > maxPacketSize {
		return nil, fmt.Errorf("frame too large: %d bytes", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	want := binary.LittleEndian.Uint16(body[2:4])
	body[2], body[3] = 0, 0
	if got := checksum(body); got != want {
		return nil, fmt.Errorf("checksum mismatch: expected 0x%04X, got 0x%04X", want, got)
	}

	pkt := &packet{
		Command:   binary.LittleEndian.Uint16(body[0:2]),
		SessionID: binary.LittleEndian.Uint16(body[4:6]),
		ReplyID:   binary.LittleEndian.Uint16(body[6:8]),
	}
	if len(body) > headerSize {
		pkt.Data = body[headerSize:]
	}

	return pkt, nil
}

// checksum bildet das 16-Bit-Einerkomplement über den Body.
// Das Checksummenfeld selbst muss dabei 0 sein.
func checksum(body []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(body); i += 2 {
		sum += uint32(binary.LittleEndian.Uint16(body[i : i+2]))
	}
	if len(body)%2 == 1 {
		sum += uint32(body[len(body)-1])
	}
	for sum > 0xFFFF {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return uint16(^sum) & 0xFFFF
}

// uint32LE ist der Payload-Helfer für Masken und Größenfelder
func uint32LE(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
