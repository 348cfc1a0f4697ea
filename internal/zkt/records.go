package zkt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/stempelwerk/zeitcore/internal/devicebus"
)

// Feste Satzlängen der Tabellen-Downloads
const (
	userRecordSize = 72
	attRecordSize  = 40
)

// 72-Byte Benutzersatz:
//   0:2   interner Index (u16)
//   2     Privilege
//   3:11  Passwort (8 Bytes, ungenutzt)
//   11:35 Name (24 Bytes, NUL-gepolstert)
//   35:39 Kartennummer (u32)
//   39    Gruppe
//   40:42 reserviert
//   42:51 user_id als ASCII (9 Bytes, NUL-gepolstert)
//   51:72 reserviert
func decodeUserRecord(b []byte) (devicebus.RawUser, error) {
	if len(b) != userRecordSize {
		return devicebus.RawUser{}, fmt.Errorf("user record: expected %d bytes, got %d", userRecordSize, len(b))
	}
	return devicebus.RawUser{
		UserID:    cstring(b[42:51]),
		Name:      cstring(b[11:35]),
		Privilege: b[2],
		CardNo:    binary.LittleEndian.Uint32(b[35:39]),
	}, nil
}

func encodeUserRecord(sn uint16, u devicebus.RawUser) []byte {
	b := make([]byte, userRecordSize)
	binary.LittleEndian.PutUint16(b[0:2], sn)
	b[2] = u.Privilege
	copy(b[11:35], u.Name)
	binary.LittleEndian.PutUint32(b[35:39], u.CardNo)
	copy(b[42:51], u.UserID)
	return b
}

// 40-Byte Stempelsatz:
//   0:2   Satznummer (u16)
//   2:11  user_id als ASCII (9 Bytes, NUL-gepolstert)
//   11:26 reserviert
//   26    Status (Verifikationsart)
//   27:31 Zeitstempel, gepackt (u32)
//   31    Punch-Code
//   32:40 reserviert
func decodeAttRecord(b []byte, loc *time.Location) (devicebus.RawRecord, error) {
	if len(b) != attRecordSize {
		return devicebus.RawRecord{}, fmt.Errorf("att record: expected %d bytes, got %d", attRecordSize, len(b))
	}
	return devicebus.RawRecord{
		UserID:    cstring(b[2:11]),
		Timestamp: decodeTime(binary.LittleEndian.Uint32(b[27:31]), loc),
		Status:    b[26],
		Punch:     b[31],
		Sequence:  uint32(binary.LittleEndian.Uint16(b[0:2])),
	}, nil
}

func encodeAttRecord(sn uint16, r devicebus.RawRecord) []byte {
	b := make([]byte, attRecordSize)
	binary.LittleEndian.PutUint16(b[0:2], sn)
	copy(b[2:11], r.UserID)
	b[26] = r.Status
	binary.LittleEndian.PutUint32(b[27:31], encodeTime(r.Timestamp))
	b[31] = r.Punch
	return b
}

// decodeTime entpackt die Gerätezeit. Die Terminals zählen Sekunden seit
// 2000-01-01 in einem Kalender, der jeden Monat mit 31 Tagen rechnet;
// der Wert ist also kein Unix-Offset und muss feldweise zerlegt werden.
func decodeTime(v uint32, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}

	sec := int(v % 60)
	v /= 60
	min := int(v % 60)
	v /= 60
	hour := int(v % 24)
	v /= 24

	day := int(v%31) + 1
	v /= 31
	month := int(v%12) + 1
	v /= 12
	year := int(v) + 2000

	return time.Date(year, time.Month(month), day, hour, min, sec, 0, loc)
}

// encodeTime ist die Umkehrung, gebraucht von Tests und Simulatoren.
func encodeTime(t time.Time) uint32 {
	v := uint32(t.Year()-2000)*12*31 +
		uint32(int(t.Month())-1)*31 +
		uint32(t.Day()-1)
	v = v*24 + uint32(t.Hour())
	v = v*60 + uint32(t.Minute())
	v = v*60 + uint32(t.Second())
	return v
}

// splitRecords zerlegt einen Tabellen-Download in Sätze fester Länge
func splitRecords(data []byte, size int) ([][]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("record size must be positive")
	}
	if len(data)%size != 0 {
		return nil, fmt.Errorf("table data not a multiple of %d: %d bytes", size, len(data))
	}
	out := make([][]byte, 0, len(data)/size)
	for i := 0; i < len(data); i += size {
		out = append(out, data[i:i+size])
	}
	return out, nil
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(bytes.TrimSpace(b))
}
