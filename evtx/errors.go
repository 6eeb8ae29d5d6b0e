package evtx

import (
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrInvalidEvent    = errors.New("invalid event")
	ErrCorruptedHeader = errors.New("corrupted header")
	ErrDirtyFile       = errors.New("file is flagged as dirty")
	ErrRepairFailed    = errors.New("file header could not be repaired")
	ErrBadChunkMagic   = errors.New("bad chunk magic")
	ErrBadChecksum     = errors.New("bad checksum")

	// binary XML decoding
	ErrInvalidToken          = errors.New("invalid binary xml token")
	ErrUnexpectedEOF         = errors.New("unexpected end of data")
	ErrInvalidName           = errors.New("invalid name")
	ErrInvalidStringEncoding = errors.New("invalid string encoding")
	ErrInvalidValueType      = errors.New("invalid value type")
	ErrOutOfBounds           = errors.New("declared size out of bounds")
	ErrMaxDepth              = errors.New("maximum nesting depth exceeded")

	// record model
	ErrUnimplementedToken = errors.New("unimplemented token")
	ErrBadParserState     = errors.New("bad parser state")
	ErrUnbalancedElements = errors.New("unbalanced elements")
)

const contextWindow = 16

// DecodeError locates a binary XML failure inside a chunk
type DecodeError struct {
	Err     error
	Offset  int64
	Detail  string
	Context []byte
	// offset of Context[0] in the chunk
	ContextOffset int64
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("%s at offset 0x%x", e.Err, e.Offset)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if len(e.Context) > 0 {
		msg += fmt.Sprintf(" [0x%x: %s]", e.ContextOffset, hex.EncodeToString(e.Context))
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func newDecodeError(data []byte, err error, offset int64, format string, args ...interface{}) *DecodeError {
	de := &DecodeError{Err: err, Offset: offset}
	if format != "" {
		de.Detail = fmt.Sprintf(format, args...)
	}
	start, end := offset-contextWindow, offset+contextWindow
	if start < 0 {
		start = 0
	}
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	if start < end {
		de.Context = data[start:end]
		de.ContextOffset = start
	}
	return de
}
