package log

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	defer InitLogger(LInfo)

	InitLogger(LInfo)
	Debugf("hidden %d", 1)
	Warnf("shown %d", 2)
	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, "WARNING - shown 2") {
		t.Errorf("info level output: %q", out)
	}

	buf.Reset()
	InitLogger(LDebug)
	Debugf("chunk 0x%x", 0x1000)
	if out := buf.String(); !strings.Contains(out, "DEBUG - chunk 0x1000") {
		t.Errorf("debug level output: %q", out)
	}

	SetLogLevel(42)
	if Level() != LInfo {
		t.Errorf("unknown level not reset, got %d", Level())
	}
}
