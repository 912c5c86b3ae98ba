package pipeline

import (
	"sync"

	"github.com/ALEYI17/InfraSight_infer/pkg/types"
	"github.com/pkg/errors"
)

// Token describes one unit of work travelling between stages. Markers and
// futures are handles into the owning stage's slot, valid until the unit is
// collected. Err is set when a stage failed the unit, later stages pass it on
// untouched.
type Token struct {
	Slots [types.NumStages]int
	Dev   types.Marker
	Host  *Future
	Group int
	Seq   uint64
	Err   error
}

// fail marks the token failed and drops its completion handles.
func (t Token) fail(err error) Token {
	t.Err = err
	t.Dev, t.Host = nil, nil
	return t
}

func newToken() Token {
	return Token{Slots: [types.NumStages]int{-1, -1, -1}}
}

// Fifo is a bounded blocking ring of tokens.
type Fifo struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	buf      []Token
	head     int
	n        int
}

func NewFifo(capacity int) (*Fifo, error) {
	if capacity < 1 {
		return nil, errors.Wrapf(types.ErrInvalidDepth, "fifo capacity %d", capacity)
	}
	f := &Fifo{buf: make([]Token, capacity)}
	f.notEmpty = sync.NewCond(&f.mu)
	f.notFull = sync.NewCond(&f.mu)
	return f, nil
}

// Push blocks while the fifo is full.
func (f *Fifo) Push(t Token) {
	f.mu.Lock()
	for f.n == len(f.buf) {
		f.notFull.Wait()
	}
	f.buf[(f.head+f.n)%len(f.buf)] = t
	f.n++
	f.mu.Unlock()
	f.notEmpty.Signal()
}

// Pop blocks while the fifo is empty and returns the oldest token.
func (f *Fifo) Pop() Token {
	f.mu.Lock()
	for f.n == 0 {
		f.notEmpty.Wait()
	}
	t := f.buf[f.head]
	f.buf[f.head] = Token{}
	f.head = (f.head + 1) % len(f.buf)
	f.n--
	f.mu.Unlock()
	f.notFull.Signal()
	return t
}

func (f *Fifo) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

func (f *Fifo) Cap() int { return len(f.buf) }
