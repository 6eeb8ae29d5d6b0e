package evtx

import (
	"encoding/binary"
	"math"
	"runtime"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Offset is a byte offset relative to the start of a chunk
type Offset = uint32

var (
	// MaxJobs is the number of chunks decoded concurrently
	MaxJobs    = int(math.Max(1, math.Floor(float64(runtime.NumCPU())/2)))
	Endianness = binary.LittleEndian
)

func SetMaxJobs(jobs int) {
	if jobs < 1 {
		jobs = 1
	}
	MaxJobs = jobs
}

// Settings controls how chunks and records are decoded
type Settings struct {
	// ValidateChecksums verifies chunk header and records CRC32 before any
	// record is decoded
	ValidateChecksums bool
	// ContinueOnError skips a record whose binary XML fails to decode instead
	// of stopping the iteration of its chunk
	ContinueOnError bool
	// MaxNestingDepth bounds template and nested binary XML expansion
	MaxNestingDepth int
	// AnsiCodec decodes AnsiString values
	AnsiCodec encoding.Encoding
}

var DefaultSettings = Settings{
	ValidateChecksums: false,
	ContinueOnError:   false,
	MaxNestingDepth:   DefaultMaxNestingDepth,
	AnsiCodec:         charmap.Windows1252,
}

func (s Settings) maxDepth() int {
	if s.MaxNestingDepth <= 0 {
		return DefaultMaxNestingDepth
	}
	return s.MaxNestingDepth
}

func (s Settings) ansiCodec() encoding.Encoding {
	if s.AnsiCodec == nil {
		return charmap.Windows1252
	}
	return s.AnsiCodec
}

const (
	EventHeaderSize        = 24
	ChunkSize              = 0x10000
	ChunkHeaderSize        = 0x80
	ChunkDataOffset        = 0x200
	ChunkMagic             = "ElfChnk\x00"
	FileMagic              = "ElfFile\x00"
	sizeStringBucket       = 0x40
	sizeTemplateBucket     = 0x20
	EventMagic             = "\x2a\x2a\x00\x00"
	MaxSliceSize           = ChunkSize
	DefaultMaxNestingDepth = 128

	// next offset, GUID, data size
	templateDefinitionHeaderSize = 24
)

const (
	TokenEOF                                             = 0x00
	TokenOpenStartElementTag1, TokenOpenStartElementTag2 = 0x01, 0x41 // (<)name>
	TokenCloseStartElementTag                            = 0x02       // <name(>)
	TokenCloseEmptyElementTag                            = 0x03       // <name(/>)
	TokenEndElementTag                                   = 0x04       // (</name>)
	TokenValue1, TokenValue2                             = 0x05, 0x45 // attribute = "(value)"
	TokenAttribute1, TokenAttribute2                     = 0x06, 0x46 // (attribute) = "value"
	TokenCDataSection1, TokenCDataSection2               = 0x07, 0x47
	TokenCharRef1, TokenCharRef2                         = 0x08, 0x48
	TokenEntityRef1, TokenEntityRef2                     = 0x09, 0x49
	TokenPITarget                                        = 0x0a
	TokenPIData                                          = 0x0b
	TokenTemplateInstance                                = 0x0c
	TokenNormalSubstitution                              = 0x0d
	TokenOptionalSubstitution                            = 0x0e
	FragmentHeaderToken                                  = 0x0f
)

const (
	NullType       ValueType = 0x00
	StringType     ValueType = 0x01
	AnsiStringType ValueType = 0x02
	Int8Type       ValueType = 0x03
	UInt8Type      ValueType = 0x04
	Int16Type      ValueType = 0x05
	UInt16Type     ValueType = 0x06
	Int32Type      ValueType = 0x07
	UInt32Type     ValueType = 0x08
	Int64Type      ValueType = 0x09
	UInt64Type     ValueType = 0x0a
	Real32Type     ValueType = 0x0b
	Real64Type     ValueType = 0x0c
	BoolType       ValueType = 0x0d
	BinaryType     ValueType = 0x0e
	GuidType       ValueType = 0x0f
	SizeTType      ValueType = 0x10
	FileTimeType   ValueType = 0x11
	SysTimeType    ValueType = 0x12
	SidType        ValueType = 0x13
	HexInt32Type   ValueType = 0x14
	HexInt64Type   ValueType = 0x15
	EvtHandleType  ValueType = 0x20
	BinXmlType     ValueType = 0x21
	EvtXmlType     ValueType = 0x23

	// the MSB of the value type flags an array of the base type
	ArrayType ValueType = 0x80
)

var (
	PathSeparator     = "/"
	XmlnsPath         = Path("/Event/xmlns")
	ChannelPath       = Path("/Event/System/Channel")
	EventIDPath       = Path("/Event/System/EventID")
	EventIDPath2      = Path("/Event/System/EventID/Value")
	EventRecordIDPath = Path("/Event/System/EventRecordID")
	SystemTimePath    = Path("/Event/System/TimeCreated/SystemTime")
)
