package main

import (
	"testing"

	"golang.org/x/crypto/blake2b"
)

func TestOutputName(t *testing.T) {
	tests := []struct {
		input    string
		format   string
		compress bool
		want     string
	}{
		{"logs/Security.evtx", formatJSON, false, "logs/Security.json"},
		{"logs/Security.evtx.zst", formatXML, false, "logs/Security.xml"},
		{"System.evtx", formatMap, true, "System.map.zst"},
		{"noext", formatJSON, false, "noext.json"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := outputName(tt.input, tt.format, tt.compress); got != tt.want {
				t.Errorf("outputName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDuplicate(t *testing.T) {
	d := &dumper{dedup: true, seen: make(map[[blake2b.Size256]byte]struct{})}
	if d.duplicate([]byte(`{"a":1}`)) {
		t.Error("first record flagged as duplicate")
	}
	if !d.duplicate([]byte(`{"a":1}`)) {
		t.Error("second record not flagged as duplicate")
	}
	if d.duplicate([]byte(`{"a":2}`)) {
		t.Error("different record flagged as duplicate")
	}

	d.dedup = false
	if d.duplicate([]byte(`{"a":1}`)) {
		t.Error("duplicate flagged with deduplication off")
	}
}
