package main

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"

	"rawsec-binxml/evtx"
	"rawsec-binxml/log"
)

const version = "1.1"

const (
	formatJSON = "json"
	formatXML  = "xml"
	formatMap  = "map"
)

type dumper struct {
	format   string
	eventIds []interface{}
	dedup    bool
	seen     map[[blake2b.Size256]byte]struct{}
	count    int
	dropped  int
}

// render returns the record in the output format, nil when it is filtered out
func (d *dumper) render(e *evtx.Event) ([]byte, error) {
	mb := evtx.NewMapBuilder()
	visitors := []evtx.Visitor{mb}

	var xmlBuf bytes.Buffer
	xo := evtx.NewXMLOutput(&xmlBuf)
	xo.Indent = "  "
	jo := evtx.NewJSONOutput()
	switch d.format {
	case formatXML:
		visitors = append(visitors, xo)
	case formatJSON:
		visitors = append(visitors, jo)
	}

	if err := e.Visit(visitors...); err != nil {
		return nil, err
	}
	gem := mb.GoEvtxMap()
	if len(d.eventIds) > 0 && !gem.IsEventID(d.eventIds...) {
		return nil, nil
	}

	switch d.format {
	case formatXML:
		return xmlBuf.Bytes(), nil
	case formatJSON:
		return append([]byte(nil), jo.Bytes()...), nil
	}
	return evtx.ToJSON(gem)
}

func (d *dumper) duplicate(data []byte) bool {
	if !d.dedup {
		return false
	}
	sum := blake2b.Sum256(data)
	if _, ok := d.seen[sum]; ok {
		return true
	}
	d.seen[sum] = struct{}{}
	return false
}

func (d *dumper) dump(ctx context.Context, ef *evtx.File, w io.Writer) error {
	bw := bufio.NewWriter(w)
	array := d.format != formatXML
	if array {
		bw.WriteString("[")
	}
	first := true
	for e := range ef.Events(ctx) {
		data, err := d.render(e)
		if err != nil {
			log.Errorf("record %d: %s", e.Header.ID, err)
			continue
		}
		if data == nil {
			continue
		}
		if d.duplicate(data) {
			d.dropped++
			continue
		}
		if array && !first {
			bw.WriteString(",\n")
		}
		first = false
		if _, err := bw.Write(data); err != nil {
			return err
		}
		d.count++
	}
	if array {
		bw.WriteString("]\n")
	}
	return bw.Flush()
}

func outputName(input, format string, compress bool) string {
	name := strings.TrimSuffix(input, evtx.ZstdExt)
	name = strings.TrimSuffix(name, filepath.Ext(name)) + "." + format
	if compress {
		name += evtx.ZstdExt
	}
	return name
}

func dumpFile(ctx context.Context, d *dumper, evtxFile string, compress bool) error {
	ef, err := evtx.OpenDirty(evtxFile)
	if err != nil {
		return err
	}
	defer ef.Close()
	ef.Settings.ValidateChecksums = validateChecksums
	ef.Settings.ContinueOnError = continueOnError

	name := outputName(evtxFile, d.format, compress)
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	var w io.Writer = f
	if compress {
		enc, err := zstd.NewWriter(f)
		if err != nil {
			return err
		}
		defer enc.Close()
		w = enc
	}

	if err := d.dump(ctx, ef, w); err != nil {
		return err
	}
	log.Infof("%s: %d records written to %s", evtxFile, d.count, name)
	return nil
}

var (
	validateChecksums bool
	continueOnError   bool
)

func main() {
	var (
		strEventIds string
		format      string
		compress    bool
		dedup       bool
		jobs        int
		debug       bool
	)

	flag.StringVar(&strEventIds, "e", "", "Comma separated event IDs")
	flag.StringVar(&format, "f", formatJSON, "Output format: json, xml or map")
	flag.BoolVar(&compress, "z", false, "Compress output with zstd")
	flag.BoolVar(&dedup, "dedup", false, "Drop records rendering identically")
	flag.IntVar(&jobs, "j", evtx.MaxJobs, "Number of chunks decoded in parallel")
	flag.BoolVar(&validateChecksums, "c", false, "Verify chunk checksums")
	flag.BoolVar(&continueOnError, "k", false, "Skip records failing to decode instead of the rest of their chunk")
	flag.BoolVar(&debug, "d", false, "Enable debug messages")

	flag.Usage = func() {
		fmt.Printf("%s\nUsage of %s: %[2]s [OPTIONS] FILES...\n", version, filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}

	flag.Parse()

	if debug {
		log.InitLogger(log.LDebug)
	}
	evtx.SetMaxJobs(jobs)

	switch format {
	case formatJSON, formatXML, formatMap:
	default:
		log.Errorf("unknown output format %q", format)
		os.Exit(1)
	}

	var eventIds []interface{}
	for _, i := range strings.Split(strEventIds, ",") {
		if _, err := strconv.ParseInt(i, 10, 64); err == nil {
			eventIds = append(eventIds, i)
		}
	}

	ctx := context.Background()
	for _, evtxFile := range flag.Args() {
		d := &dumper{
			format:   format,
			eventIds: eventIds,
			dedup:    dedup,
			seen:     make(map[[blake2b.Size256]byte]struct{}),
		}
		if err := dumpFile(ctx, d, evtxFile, compress); err != nil {
			log.Errorf("%s: %s", evtxFile, err)
			continue
		}
		if d.dropped > 0 {
			log.Infof("%s: %d duplicated records dropped", evtxFile, d.dropped)
		}
	}
}
