package evtx

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"rawsec-binxml/encoding"
	"rawsec-binxml/log"
)

const (
	// extension of zstd compressed logs
	ZstdExt = ".zst"
	// bit of FileHeader.Flags set while the file is being written
	fileFlagDirty = 0x1
)

type FileHeader struct {
	Magic           [8]byte
	FirstChunkNum   uint64
	LastChunkNum    uint64
	NextRecordID    uint64
	HeaderSpace     uint32
	MinVersion      uint16
	MajVersion      uint16
	ChunkDataOffset uint16
	ChunkCount      uint16
	Unknown         [76]byte
	Flags           uint32
	CheckSum        uint32
}

func (f *FileHeader) Verify() error {
	if string(f.Magic[:]) != FileMagic {
		return ErrCorruptedHeader
	}
	if f.Flags&fileFlagDirty != 0 {
		return ErrDirtyFile
	}
	return nil
}

// Repair counts the chunks actually present in r to fix the header of a
// file which was not closed properly
func (f *FileHeader) Repair(r io.ReadSeeker) error {
	GoToSeeker(r, int64(f.ChunkDataOffset))
	chunkHeaderRE := regexp.MustCompile(regexp.QuoteMeta(ChunkMagic))
	rr := bufio.NewReader(r)
	cc := uint16(0)
	for loc := chunkHeaderRE.FindReaderIndex(rr); loc != nil; loc = chunkHeaderRE.FindReaderIndex(rr) {
		cc++
	}

	if f.ChunkCount > cc || cc == 0 {
		return ErrRepairFailed
	}

	f.ChunkCount = cc
	f.LastChunkNum = uint64(f.ChunkCount - 1)
	f.Flags &^= fileFlagDirty
	return nil
}

func (f FileHeader) String() string {
	return fmt.Sprintf(
		"Magic: %q\n"+
			"FirstChunkNum: %d\n"+
			"LastChunkNum: %d\n"+
			"NumNextRecord: %d\n"+
			"HeaderSpace: %d\n"+
			"MinVersion: 0x%04x\n"+
			"MaxVersion: 0x%04x\n"+
			"SizeHeader: %d\n"+
			"ChunkCount: %d\n"+
			"Flags: 0x%08x\n"+
			"CheckSum: 0x%08x\n",
		f.Magic,
		f.FirstChunkNum,
		f.LastChunkNum,
		f.NextRecordID,
		f.HeaderSpace,
		f.MinVersion,
		f.MajVersion,
		f.ChunkDataOffset,
		f.ChunkCount,
		f.Flags,
		f.CheckSum)
}

// File is an EVTX file. Chunks are read under a lock and decoded
// concurrently.
type File struct {
	sync.Mutex
	Header   FileHeader
	Settings Settings
	file     io.ReadSeeker
}

func New(r io.ReadSeeker) (ef *File, err error) {
	ef = &File{file: r, Settings: DefaultSettings}
	err = ef.ParseFileHeader()
	return
}

// Open opens an EVTX file, zstd compressed files are decompressed in memory
func Open(filepath string) (ef *File, err error) {
	file, err := os.Open(filepath)
	if err != nil {
		return
	}

	var r io.ReadSeeker = file
	if strings.HasSuffix(filepath, ZstdExt) {
		data, err := decompress(file)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath, err)
		}
		r = bytes.NewReader(data)
	}

	if ef, err = New(r); err != nil {
		return
	}
	err = ef.Header.Verify()
	return
}

func OpenDirty(filepath string) (ef *File, err error) {
	if ef, err = Open(filepath); err == ErrDirtyFile {
		err = ef.Header.Repair(ef.file)
	}
	return
}

func decompress(r io.Reader) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	compressed, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return dec.DecodeAll(compressed, nil)
}

func (ef *File) ParseFileHeader() error {
	ef.Lock()
	defer ef.Unlock()

	GoToSeeker(ef.file, 0)
	if err := encoding.Unmarshal(ef.file, &ef.Header, Endianness); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptedHeader, err)
	}
	return nil
}

func (ef *File) chunkOffset(i int) int64 {
	return int64(ef.Header.ChunkDataOffset) + int64(ChunkSize)*int64(i)
}

// FetchChunkData reads the raw chunk located at offset
func (ef *File) FetchChunkData(offset int64) ([]byte, error) {
	ef.Lock()
	defer ef.Unlock()
	if _, err := ef.file.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	data := make([]byte, ChunkSize)
	if _, err := io.ReadFull(ef.file, data); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: truncated chunk at 0x%x", ErrInvalidEvent, offset)
		}
		return nil, err
	}
	return data, nil
}

func (ef *File) FetchChunk(offset int64) (*Chunk, error) {
	data, err := ef.FetchChunkData(offset)
	if err != nil {
		return nil, err
	}
	return NewChunk(data, offset, ef.Settings)
}

type rawChunk struct {
	offset int64
	data   []byte
}

func (ef *File) rawChunks(ctx context.Context) (rc chan rawChunk) {
	rc = make(chan rawChunk)
	go func() {
		defer close(rc)
		for i := 0; i < int(ef.Header.ChunkCount); i++ {
			offset := ef.chunkOffset(i)
			data, err := ef.FetchChunkData(offset)
			switch {
			case err == io.EOF:
				return
			case err != nil:
				log.Errorf("chunk at 0x%x: %s", offset, err)
				return
			}
			select {
			case rc <- rawChunk{offset, data}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return
}

// Chunks returns the chunks of the file in order, chunks which cannot be
// loaded are logged and skipped
func (ef *File) Chunks(ctx context.Context) (cc chan *Chunk) {
	cc = make(chan *Chunk)
	go func() {
		defer close(cc)
		for raw := range ef.rawChunks(ctx) {
			c, err := NewChunk(raw.data, raw.offset, ef.Settings)
			if err != nil {
				log.Errorf("chunk at 0x%x: %s", raw.offset, err)
				continue
			}
			select {
			case cc <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return
}

// Events returns the records of the file in order. Chunks are decoded by up
// to MaxJobs goroutines.
func (ef *File) Events(ctx context.Context) (ce chan *Event) {
	ce = make(chan *Event, 42)
	go func() {
		defer close(ce)
		chanQueue := make(chan (chan *Event), MaxJobs)
		go func() {
			defer close(chanQueue)
			for raw := range ef.rawChunks(ctx) {
				ec := make(chan *Event, 64)
				go ef.decodeChunk(ctx, raw, ec)
				select {
				case chanQueue <- ec:
				case <-ctx.Done():
					return
				}
			}
		}()
		for ec := range chanQueue {
			for e := range ec {
				select {
				case ce <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return
}

func (ef *File) decodeChunk(ctx context.Context, raw rawChunk, ec chan *Event) {
	defer close(ec)
	c, err := NewChunk(raw.data, raw.offset, ef.Settings)
	if err != nil {
		log.Errorf("chunk at 0x%x: %s", raw.offset, err)
		return
	}
	it := c.Iter()
	for it.Next() {
		select {
		case ec <- it.Event():
		case <-ctx.Done():
			return
		}
	}
	if err := it.Err(); err != nil {
		log.Errorf("chunk at 0x%x: %s", raw.offset, err)
	}
	if it.Skipped() > 0 {
		log.Warnf("chunk at 0x%x: %d records skipped", raw.offset, it.Skipped())
	}
}

// UnorderedEvents returns the map of every record, MaxJobs chunks being
// converted at the same time
func (ef *File) UnorderedEvents() (cgem chan *GoEvtxMap) {
	cgem = make(chan *GoEvtxMap, 42)
	go func() {
		defer close(cgem)
		wg := sync.WaitGroup{}
		chunks := ef.Chunks(context.Background())
		for i := 0; i < MaxJobs; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for c := range chunks {
					for gem := range c.Events() {
						cgem <- gem
					}
				}
			}()
		}
		wg.Wait()
	}()
	return
}

func (ef *File) Close() error {
	if f, ok := ef.file.(io.Closer); ok {
		return f.Close()
	}

	return nil
}
