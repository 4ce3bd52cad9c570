// Package progress carries upload progress from the transfer code to whoever
// owns the display. Reporters belong to the caller and are passed into each
// upload, so concurrent or repeated uploads never share state.
package progress

import (
	"io"
	"sync"

	"github.com/cheggaaa/pb/v3"
)

// Reporter receives upload progress. Update is called with the bytes
// transferred since the previous call and the total size; Done is called once
// the transfer has finished.
type Reporter interface {
	Update(transferred, total int64)
	Done()
}

// Func adapts a plain callback to a Reporter. Done is a no-op.
type Func func(transferred, total int64)

func (f Func) Update(transferred, total int64) {
	f(transferred, total)
}

func (f Func) Done() {}

// Nop discards all progress.
var Nop Reporter = Func(func(int64, int64) {})

// Bar renders progress as a terminal progress bar.
type Bar struct {
	out   io.Writer
	label string

	mu  sync.Mutex
	bar *pb.ProgressBar
}

// NewBar returns a Bar writing to out. The bar itself is created on the first
// Update, once the total size is known.
func NewBar(out io.Writer, label string) *Bar {
	return &Bar{
		out:   out,
		label: label,
	}
}

func (b *Bar) Update(transferred, total int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bar == nil {
		b.bar = pb.New64(total).SetTemplate(pb.Full)
		b.bar.SetWriter(b.out)
		b.bar.Set(pb.Bytes, true)
		b.bar.Set("prefix", b.label+" ")
		b.bar.Start()
	}
	b.bar.Add64(transferred)
}

// Done finishes the current bar. The next Update starts a new one.
func (b *Bar) Done() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bar == nil {
		return
	}
	b.bar.Finish()
	b.bar = nil
}

// Current returns the bytes counted by the active bar, or zero.
func (b *Bar) Current() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bar == nil {
		return 0
	}
	return b.bar.Current()
}
