package util

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Printer serializes operator-facing output from concurrent server runs.
type Printer struct {
	mu        sync.Mutex
	out       io.Writer
	suspended bool
}

var Default = NewPrinter(os.Stdout)

func NewPrinter(w io.Writer) *Printer {
	return &Printer{out: w}
}

func (p *Printer) SetOutput(w io.Writer) {
	p.mu.Lock()
	p.out = w
	p.mu.Unlock()
}

func (p *Printer) write(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.suspended {
		return
	}
	fmt.Fprint(p.out, msg)
}

func (p *Printer) Print(a ...interface{}) { p.write(fmt.Sprint(a...)) }

func (p *Printer) Printf(format string, a ...interface{}) { p.write(fmt.Sprintf(format, a...)) }

func (p *Printer) Println(a ...interface{}) { p.write(fmt.Sprintln(a...)) }

// PrintBlock writes a multi-line block in one piece so lines from other
// goroutines cannot interleave with it.
func (p *Printer) PrintBlock(block string, clearLine bool) {
	if clearLine {
		block = "\r\x1b[K" + block
	}
	if !strings.HasSuffix(block, "\n") {
		block += "\n"
	}
	p.write(block)
}

func (p *Printer) ClearLine() { p.write("\r\x1b[K") }

func (p *Printer) Success(format string, a ...interface{}) {
	p.write("✅ " + fmt.Sprintf(format, a...) + "\n")
}

func (p *Printer) Failure(format string, a ...interface{}) {
	p.write("❌ " + fmt.Sprintf(format, a...) + "\n")
}

func (p *Printer) Warning(format string, a ...interface{}) {
	p.write("⚠️  " + fmt.Sprintf(format, a...) + "\n")
}

// Suspend drops output until Resume, e.g. while an interactive prompt owns the terminal.
func (p *Printer) Suspend() {
	p.mu.Lock()
	p.suspended = true
	p.mu.Unlock()
}

func (p *Printer) Resume() {
	p.mu.Lock()
	p.suspended = false
	p.mu.Unlock()
}

func (p *Printer) IsSuspended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.suspended
}
