package evtx

import (
	"bytes"
	"fmt"
	"hash/crc32"

	"rawsec-binxml/encoding"
	"rawsec-binxml/log"
)

const (
	// header checksum covers [0:chunkHeaderCRCEnd] and [ChunkHeaderSize:ChunkDataOffset]
	chunkHeaderCRCEnd = 0x78
)

type ChunkHeader struct {
	Magic           [8]byte
	NumFirstRecLog  uint64
	NumLastRecLog   uint64
	FirstEventRecID uint64
	LastEventRecID  uint64
	SizeHeader      uint32
	OffsetLastRec   uint32
	Freespace       uint32
	EventsCheckSum  uint32
	Unknown         [64]byte
	Flags           uint32
	CheckSum        uint32
	StringOffsets   [sizeStringBucket]Offset
	TemplateOffsets [sizeTemplateBucket]Offset
}

func (ch ChunkHeader) String() string {
	return fmt.Sprintf(
		"\tMagic: %q\n"+
			"\tNumFirstRecLog: %d\n"+
			"\tNumLastRecLog: %d\n"+
			"\tFirstEventRecID: %d\n"+
			"\tLastEventRecID: %d\n"+
			"\tSizeHeader: %d\n"+
			"\tOffsetLastRec: %d\n"+
			"\tFreespace: %d\n"+
			"\tEventsCheckSum: 0x%08x\n"+
			"\tCheckSum: 0x%08x\n",
		ch.Magic,
		ch.NumFirstRecLog,
		ch.NumLastRecLog,
		ch.FirstEventRecID,
		ch.LastEventRecID,
		ch.SizeHeader,
		ch.OffsetLastRec,
		ch.Freespace,
		ch.EventsCheckSum,
		ch.CheckSum)
}

// Chunk is a fully loaded chunk with its string and template caches, built
// once by NewChunk and read-only afterwards
type Chunk struct {
	Offset int64
	Header ChunkHeader
	Data   []byte
	ctx    *ParsingContext
}

// NewChunk parses the header of the chunk held by data, offset being its
// position in the file, and populates its caches
func NewChunk(data []byte, offset int64, settings Settings) (*Chunk, error) {
	if len(data) < ChunkDataOffset {
		return nil, fmt.Errorf("%w: chunk of %d bytes", ErrOutOfBounds, len(data))
	}
	c := &Chunk{Offset: offset, Data: data}
	if err := encoding.Unmarshal(bytes.NewReader(data), &c.Header, Endianness); err != nil {
		return nil, err
	}
	if string(c.Header.Magic[:]) != ChunkMagic {
		return nil, fmt.Errorf("%w: %q at 0x%x", ErrBadChunkMagic, c.Header.Magic, offset)
	}
	if settings.ValidateChecksums {
		if err := c.Verify(); err != nil {
			return nil, err
		}
	}

	used := c.Data[:c.end()]
	strings := NewStringCache()
	strings.Populate(used, c.Header.StringOffsets[:])
	c.ctx = NewParsingContext(used, strings, nil, settings)
	templates := NewTemplateCache()
	templates.Populate(c.ctx, c.Header.TemplateOffsets[:])
	c.ctx.templates = templates
	log.Debugf("chunk at 0x%x: %d strings, %d templates", offset, strings.Len(), templates.Len())
	return c, nil
}

// end returns the free space offset, or the data length when the header
// does not hold a usable one
func (c *Chunk) end() int {
	fs := int(c.Header.Freespace)
	if fs < ChunkDataOffset || fs > len(c.Data) {
		return len(c.Data)
	}
	return fs
}

func (c *Chunk) Context() *ParsingContext {
	return c.ctx
}

// Verify checks the header and the records checksums
func (c *Chunk) Verify() error {
	h := crc32.NewIEEE()
	h.Write(c.Data[:chunkHeaderCRCEnd])
	h.Write(c.Data[ChunkHeaderSize:ChunkDataOffset])
	if sum := h.Sum32(); sum != c.Header.CheckSum {
		return fmt.Errorf("%w: chunk header at 0x%x, computed 0x%08x expected 0x%08x",
			ErrBadChecksum, c.Offset, sum, c.Header.CheckSum)
	}
	if sum := crc32.ChecksumIEEE(c.Data[ChunkDataOffset:c.end()]); sum != c.Header.EventsCheckSum {
		return fmt.Errorf("%w: chunk records at 0x%x, computed 0x%08x expected 0x%08x",
			ErrBadChecksum, c.Offset, sum, c.Header.EventsCheckSum)
	}
	return nil
}

// Iter returns an iterator over the records of the chunk in file order
func (c *Chunk) Iter() *EventIterator {
	return &EventIterator{chunk: c, offset: ChunkDataOffset}
}

// Events converts every record into a GoEvtxMap, records failing to convert
// are logged and skipped
func (c *Chunk) Events() (cgem chan *GoEvtxMap) {
	cgem = make(chan *GoEvtxMap, 42)
	go func() {
		defer close(cgem)
		it := c.Iter()
		for it.Next() {
			e := it.Event()
			gem, err := e.GoEvtxMap()
			if err != nil {
				log.Errorf("chunk at 0x%x, record %d: %s", c.Offset, e.Header.ID, err)
				continue
			}
			cgem <- gem
		}
		if err := it.Err(); err != nil {
			log.Errorf("chunk at 0x%x: %s", c.Offset, err)
		}
	}()
	return
}

func (c *Chunk) String() string {
	return fmt.Sprintf(
		"Offset: 0x%x\n"+
			"Header:\n%v"+
			"Strings: %d\n"+
			"Templates: %d\n",
		c.Offset, c.Header, c.ctx.strings.Len(), c.ctx.templates.Len())
}

// EventIterator walks the records of a chunk. A record whose binary XML
// cannot be decoded ends the iteration unless Settings.ContinueOnError is
// set, in which case it is counted in Skipped.
//
//	it := chunk.Iter()
//	for it.Next() {
//		e := it.Event()
//	}
//	if err := it.Err(); err != nil {
//	}
type EventIterator struct {
	chunk   *Chunk
	offset  int64
	event   *Event
	err     error
	skipped int
	done    bool
}

func (it *EventIterator) Next() bool {
	c := it.chunk
	end := int64(c.end())
	for !it.done {
		if it.offset+EventHeaderSize > end || it.offset > int64(c.Header.OffsetLastRec) {
			it.done = true
			break
		}

		var h EventHeader
		if err := encoding.Unmarshal(bytes.NewReader(c.Data[it.offset:end]), &h, Endianness); err != nil {
			it.fail(fmt.Errorf("%w: record header at 0x%x: %v", ErrInvalidEvent, it.offset, err))
			break
		}
		if err := h.Validate(); err != nil {
			it.fail(fmt.Errorf("record at 0x%x: %w", it.offset, err))
			break
		}
		if it.offset+int64(h.Size) > end {
			it.fail(fmt.Errorf("%w: record at 0x%x overruns the chunk", ErrInvalidEvent, it.offset))
			break
		}
		if copySize := Endianness.Uint32(c.Data[it.offset+int64(h.Size)-4:]); copySize != h.Size {
			it.fail(fmt.Errorf("%w: record at 0x%x size %d, trailing copy %d", ErrInvalidEvent, it.offset, h.Size, copySize))
			break
		}

		offset := it.offset
		it.offset += int64(h.Size)
		tokens, err := NewDeserializer(c.ctx, offset+EventHeaderSize, int64(h.Size)-EventHeaderSize-4).Tokens()
		if err != nil {
			if c.ctx.settings.ContinueOnError {
				log.Warnf("record %d skipped: %s", h.ID, err)
				it.skipped++
				continue
			}
			it.fail(fmt.Errorf("record %d: %w", h.ID, err))
			break
		}
		it.event = &Event{Offset: offset, Header: h, Tokens: tokens, chunk: c}
		return true
	}
	it.event = nil
	return false
}

func (it *EventIterator) fail(err error) {
	it.err = err
	it.done = true
}

func (it *EventIterator) Event() *Event {
	return it.event
}

func (it *EventIterator) Err() error {
	return it.err
}

// Skipped returns the number of records skipped because of decoding errors
func (it *EventIterator) Skipped() int {
	return it.skipped
}
