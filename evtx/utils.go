package evtx

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"
)

const (
	// seconds between 1601-01-01 and 1970-01-01
	fileTimeEpochDelta = 11644473600
	// FileTime resolution is 100ns
	fileTimeTicksPerSecond = 10000000
	// Windows event XML renders times with a microsecond resolution
	TimeFormat = "2006-01-02T15:04:05.000000Z"
)

func ToJSON(data interface{}) ([]byte, error) {
	return json.Marshal(data)
}

func BackupSeeker(seeker io.Seeker) int64 {
	backup, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		panic(err)
	}
	return backup
}

func GoToSeeker(seeker io.Seeker, offset int64) {
	_, _ = seeker.Seek(offset, io.SeekStart)
}

func RelGoToSeeker(seeker io.Seeker, offset int64) {
	_, _ = seeker.Seek(offset, io.SeekCurrent)
}

type UTF16String []uint16

// Len returns the size in bytes
func (us UTF16String) Len() int {
	return len(us) * 2
}

// ToString decodes the string, unpaired surrogates are rejected
func (us UTF16String) ToString() (string, error) {
	for i := 0; i < len(us); i++ {
		switch {
		case utf16.IsSurrogate(rune(us[i])) && us[i] < 0xdc00:
			if i+1 >= len(us) || us[i+1] < 0xdc00 || us[i+1] > 0xdfff {
				return "", fmt.Errorf("%w: unpaired surrogate 0x%04x", ErrInvalidStringEncoding, us[i])
			}
			i++
		case us[i] >= 0xdc00 && us[i] <= 0xdfff:
			return "", fmt.Errorf("%w: unpaired surrogate 0x%04x", ErrInvalidStringEncoding, us[i])
		}
	}
	return string(utf16.Decode(us)), nil
}

// TrimNull drops the trailing NUL characters
func (us UTF16String) TrimNull() UTF16String {
	end := len(us)
	for end > 0 && us[end-1] == 0 {
		end--
	}
	return us[:end]
}

// FileTime counts 100ns intervals since 1601-01-01 UTC
type FileTime struct {
	Nanoseconds uint64
}

func (v FileTime) Convert() (sec int64, nsec int64) {
	sec = int64(v.Nanoseconds/fileTimeTicksPerSecond) - fileTimeEpochDelta
	nsec = int64(v.Nanoseconds%fileTimeTicksPerSecond) * 100
	return
}

func (v FileTime) Time() time.Time {
	sec, nsec := v.Convert()
	return time.Unix(sec, nsec).UTC()
}

func (v FileTime) String() string {
	return v.Time().Format(TimeFormat)
}

// SysTime is the SYSTEMTIME structure
type SysTime struct {
	Year         uint16
	Month        uint16
	DayOfWeek    uint16
	Day          uint16
	Hour         uint16
	Minute       uint16
	Second       uint16
	Milliseconds uint16
}

func (st SysTime) Time() time.Time {
	return time.Date(int(st.Year), time.Month(st.Month), int(st.Day),
		int(st.Hour), int(st.Minute), int(st.Second), int(st.Milliseconds)*int(time.Millisecond), time.UTC)
}

func (st SysTime) String() string {
	return st.Time().Format(TimeFormat)
}

// GUIDFromBytes converts a GUID stored with little endian Data1, Data2 and
// Data3 fields
func GUIDFromBytes(b [16]byte) uuid.UUID {
	var u uuid.UUID
	copy(u[:], b[:])
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	return u
}

func GUIDString(u uuid.UUID) string {
	return strings.ToUpper(u.String())
}
