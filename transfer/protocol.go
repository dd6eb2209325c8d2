// Package transfer implements the binary upload protocol.
//
// A sender writes a header made of the file name as a length prefixed string
// (2 byte big endian length, then UTF-8 bytes) and the declared size as a signed
// 8 byte big endian integer, followed by the body. The receiver answers every
// stored file with the length prefixed string "File received: <name>".
// Several files can be sent on one connection.
package transfer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ChunkSize is the unit the body is read and written in
const ChunkSize = 1024

// AckPrefix starts the acknowledgement of every stored file
const AckPrefix = "File received: "

// MaxStringLength is the longest string a 2 byte length prefix can carry
const MaxStringLength = math.MaxUint16

// ErrStringTooLong is returned when a string does not fit in its length prefix
var ErrStringTooLong = errors.New("transfer: string too long")

// Header announces one file on the wire
type Header struct {
	Name string
	Size int64 // declared by the sender, not checked against the body
}

// Chunks returns the number of body chunks that follow the header.
// A size that is zero or negative has no body.
func (h Header) Chunks() int64 {
	if h.Size <= 0 {
		return 0
	}
	return (h.Size + ChunkSize - 1) / ChunkSize
}

// Ack returns the acknowledgement text for a stored file
func Ack(name string) string {
	return AckPrefix + name
}

// ReadString reads a length prefixed string.
// It returns io.EOF only when the stream ends before the first byte of the prefix.
func ReadString(r io.Reader) (string, error) {
	var prefix [2]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return "", err
	}
	buf := make([]byte, binary.BigEndian.Uint16(prefix[:]))
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("error reading string: %w", noEOF(err))
	}
	return string(buf), nil
}

// WriteString writes s with its length prefix in a single write
func WriteString(w io.Writer, s string) error {
	if len(s) > MaxStringLength {
		return fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s))
	}
	buf := make([]byte, 2, 2+len(s))
	binary.BigEndian.PutUint16(buf, uint16(len(s)))
	buf = append(buf, s...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("error writing string: %w", err)
	}
	return nil
}

// ReadHeader reads a file name and a declared size.
// A stream that ends cleanly before the header yields io.EOF.
func ReadHeader(r io.Reader) (Header, error) {
	name, err := ReadString(r)
	if err != nil {
		return Header{}, err
	}
	var size [8]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return Header{}, fmt.Errorf("error reading size of %s: %w", name, noEOF(err))
	}
	return Header{Name: name, Size: int64(binary.BigEndian.Uint64(size[:]))}, nil
}

// WriteHeader writes h as a single write
func WriteHeader(w io.Writer, h Header) error {
	if len(h.Name) > MaxStringLength {
		return fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(h.Name))
	}
	buf := make([]byte, 2, 2+len(h.Name)+8)
	binary.BigEndian.PutUint16(buf, uint16(len(h.Name)))
	buf = append(buf, h.Name...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(h.Size))
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}
	return nil
}

// noEOF turns an EOF in the middle of a frame into io.ErrUnexpectedEOF
func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
