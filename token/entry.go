package token

import (
	"bytes"
	"encoding/binary"
)

const (
	entryFormatVersion = 1
	entryHeaderSize    = 1 + 8 + 8 + 1

	// MaxPrincipalIDLen is the longest principal identifier an entry can hold.
	MaxPrincipalIDLen = 255
)

// Entry is the value stored for one issued token.
//
// Layout: version(1) | issuedAt ms (be64) | absoluteExpiry ms (be64) |
// len(principalID) (1) | principalID. The validate and revoke scripts parse
// this layout in Lua.
type Entry struct {
	PrincipalID    string
	IssuedAt       int64
	AbsoluteExpiry int64
}

func encodeEntry(e *Entry) ([]byte, error) {
	if e.PrincipalID == "" || len(e.PrincipalID) > MaxPrincipalIDLen {
		return nil, ErrInvalidPrincipal
	}

	var buf bytes.Buffer
	buf.Grow(entryHeaderSize + len(e.PrincipalID))
	buf.WriteByte(entryFormatVersion)

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(e.IssuedAt))
	buf.Write(ts[:])
	binary.BigEndian.PutUint64(ts[:], uint64(e.AbsoluteExpiry))
	buf.Write(ts[:])

	buf.WriteByte(byte(len(e.PrincipalID)))
	buf.WriteString(e.PrincipalID)

	return buf.Bytes(), nil
}
