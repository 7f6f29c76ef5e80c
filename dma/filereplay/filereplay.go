// Package filereplay replays superpages from a flat binary capture file: a
// sequence of {uint32 length}{bytes} records, each copied verbatim into a
// caller-supplied page buffer on PopReady. It is a non-hardware equipment
// variant with no direct ecosystem library to reach for, so it is built on
// the standard library alone.
package filereplay

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/coredaq/tfagg/dma"
	"github.com/coredaq/tfagg/pagepool"
)

// Driver is the dma.Driver implementation for dma.KindFileReplay.
type Driver struct {
	path string

	mu       sync.Mutex
	file     *os.File
	reader   *bufio.Reader
	pending  []dma.Superpage // pages submitted via PushSuperpage, awaiting fill
	dropped  uint64
	atEOF    bool
	queueCap int
}

// New returns a file-replay driver reading records from path.
func New(path string, queueCap int) *Driver {
	if queueCap <= 0 {
		queueCap = 8
	}
	return &Driver{path: path, queueCap: queueCap}
}

func (d *Driver) Open() error {
	f, err := os.Open(d.path)
	if err != nil {
		return fmt.Errorf("filereplay: open %s: %w", d.path, err)
	}
	d.file = f
	d.reader = bufio.NewReader(f)
	return nil
}

func (d *Driver) Close() error {
	if d.file == nil {
		return nil
	}
	return d.file.Close()
}

func (d *Driver) Start() (int, error) { return d.queueCap, nil }

func (d *Driver) Stop() error { return nil }

// PushSuperpage queues a free page to be filled from the next record in the
// capture file. ok=false when the pending queue is already at capacity.
func (d *Driver) PushSuperpage(sp dma.Superpage) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) >= d.queueCap {
		return false, nil
	}
	d.pending = append(d.pending, sp)
	return true, nil
}

// PopReady fills the oldest pending page from the next record, or reports
// ready=false once the file is exhausted.
func (d *Driver) PopReady() (dma.Superpage, bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return dma.Superpage{}, false, false
	}
	sp := d.pending[0]
	d.pending = d.pending[1:]
	if d.atEOF {
		return sp, false, true
	}

	var length uint32
	if err := binary.Read(d.reader, binary.LittleEndian, &length); err != nil {
		if err == io.EOF {
			d.atEOF = true
		}
		return sp, false, true // not-ready leftover, producer releases silently
	}
	pg, ok := sp.UserData.(pagepool.Page)
	if !ok {
		return sp, false, true
	}
	buf := pg.Payload
	n := int(length)
	if n > len(buf) {
		n = len(buf)
	}
	if _, err := io.ReadFull(d.reader, buf[:n]); err != nil {
		d.atEOF = true
		return sp, false, true
	}
	return sp, true, true
}

// DroppedSince always reports zero: a file-replay source never drops
// packets, it simply runs out of records.
func (d *Driver) DroppedSince() uint64 { return d.dropped }
