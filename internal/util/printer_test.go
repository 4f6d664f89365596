package util

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestPrinterSuspendResume(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Printf("a%d\n", 1)
	p.Suspend()
	p.Println("hidden")
	if !p.IsSuspended() {
		t.Fatalf("expected printer to be suspended")
	}
	p.Resume()
	p.Success("done %s", "web-1")

	got := buf.String()
	if strings.Contains(got, "hidden") {
		t.Errorf("suspended output leaked: %q", got)
	}
	if got != "a1\n✅ done web-1\n" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestPrintBlockIsAtomic(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	block := "line1\nline2\nline3"

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.PrintBlock(block, false)
		}()
	}
	wg.Wait()

	out := buf.String()
	if strings.Count(out, block+"\n") != 20 {
		t.Errorf("blocks interleaved:\n%s", out)
	}
}
