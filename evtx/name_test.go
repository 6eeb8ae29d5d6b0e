package evtx

import (
	"errors"
	"testing"
)

func TestNameAt(t *testing.T) {
	b := newBinXML(t, 4)
	first := b.off()
	b.name("Provider", 0x1234)
	b.raw(0xaa)
	second := b.off()
	b.name("", 0)

	n, err := NameAt(b.bytes(), int64(first))
	if err != nil {
		t.Fatal(err)
	}
	if n.Value != "Provider" || n.NextOffset != 0x1234 || n.String() != "Provider" {
		t.Errorf("name = %+v", n)
	}

	n, err = NameAt(b.bytes(), int64(second))
	if err != nil {
		t.Fatal(err)
	}
	if n.Value != "" {
		t.Errorf("name = %q, want empty", n.Value)
	}

	if _, err := NameAt(b.bytes(), -1); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("error = %v, want %v", err, ErrOutOfBounds)
	}
	if _, err := NameAt(b.bytes(), int64(b.off())-4); !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("error = %v, want %v", err, ErrUnexpectedEOF)
	}

	var nilName *Name
	if nilName.String() != "" {
		t.Error("nil name is not empty")
	}
}

func TestStringCache(t *testing.T) {
	b := newBinXML(t, 4)
	third := b.off()
	b.name("EventID", 0)
	second := b.off()
	b.name("System", third)
	first := b.off()
	b.name("Event", second)
	broken := b.off()
	b.raw(1, 2, 3)

	sc := NewStringCache()
	sc.Populate(b.bytes(), []Offset{first, 0, broken, second})
	if sc.Len() != 3 {
		t.Fatalf("cache holds %d names, want 3", sc.Len())
	}
	for offset, want := range map[Offset]string{first: "Event", second: "System", third: "EventID"} {
		if n, ok := sc.Get(offset); !ok || n.Value != want {
			t.Errorf("Get(0x%x) = %v, %t, want %s", offset, n, ok, want)
		}
	}
	if _, ok := sc.Get(broken); ok {
		t.Error("broken name cached")
	}

	var nilCache *StringCache
	if _, ok := nilCache.Get(first); ok || nilCache.Len() != 0 {
		t.Error("nil cache is not empty")
	}
}
