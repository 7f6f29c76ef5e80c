package filereplay

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/coredaq/tfagg/dma"
	"github.com/coredaq/tfagg/pagepool"
)

func writeCapture(t *testing.T, records [][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.bin")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	for _, rec := range records {
		if err := binary.Write(f, binary.LittleEndian, uint32(len(rec))); err != nil {
			t.Fatalf("write length: %v", err)
		}
		if _, err := f.Write(rec); err != nil {
			t.Fatalf("write record: %v", err)
		}
	}
	return path
}

func TestFileReplayPlaysRecordsInOrder(t *testing.T) {
	path := writeCapture(t, [][]byte{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
	})
	d := New(path, 4)
	if err := d.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()
	if _, err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	buf1 := make([]byte, 4)
	buf2 := make([]byte, 4)
	d.PushSuperpage(dma.Superpage{UserData: pagepool.Page{Payload: buf1}})
	d.PushSuperpage(dma.Superpage{UserData: pagepool.Page{Payload: buf2}})

	sp1, ready1, ok1 := d.PopReady()
	if !ok1 || !ready1 {
		t.Fatalf("pop1: ok=%v ready=%v", ok1, ready1)
	}
	got1 := sp1.UserData.(pagepool.Page).Payload
	if got1[0] != 1 || got1[3] != 4 {
		t.Fatalf("got1 = %v", got1)
	}

	sp2, ready2, ok2 := d.PopReady()
	if !ok2 || !ready2 {
		t.Fatalf("pop2: ok=%v ready=%v", ok2, ready2)
	}
	got2 := sp2.UserData.(pagepool.Page).Payload
	if got2[0] != 5 || got2[3] != 8 {
		t.Fatalf("got2 = %v", got2)
	}
}

func TestFileReplayEOF(t *testing.T) {
	path := writeCapture(t, [][]byte{{1}})
	d := New(path, 4)
	d.Open()
	defer d.Close()
	d.Start()

	buf1 := make([]byte, 1)
	buf2 := make([]byte, 1)
	d.PushSuperpage(dma.Superpage{UserData: pagepool.Page{Payload: buf1}})
	d.PushSuperpage(dma.Superpage{UserData: pagepool.Page{Payload: buf2}})

	if _, ready, ok := d.PopReady(); !ok || !ready {
		t.Fatal("first record should be ready")
	}
	if _, ready, ok := d.PopReady(); !ok || ready {
		t.Fatal("second pop should be a leftover, not ready, once file is exhausted")
	}
}
