// Package console is the line discipline spec.md §4.10 describes: a
// fixed-size ring with three indices — read r, write w, edit e — so
// backspace and line-kill only touch the uncommitted range, and a line
// commits (advancing w, waking readers) on newline, Ctrl-D, or a full
// buffer.
//
// Grounded on circbuf/circbuf.go's ring-index style, generalized from a
// plain producer/consumer byte ring to the three-index editable ring
// xv6's consoleintr implements (original_source/kernel/console.c);
// each byte >= 0x80 arriving from the simulated serial line is run on
// its own through golang.org/x/text/encoding/unicode's UTF8 decoder
// before being stored, so no raw non-ASCII byte reaches the buffer
// (see sanitize for what is stored instead).
package console

import (
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"sv39kernel/internal/sleeplock"
	"sv39kernel/internal/spinlock"
)

const (
	bufsize = 128
	ctrlH   = 'H' - '@'
	ctrlU   = 'U' - '@'
	ctrlD   = 'D' - '@'
	ctrlP   = 'P' - '@'
)

// readChan is the wait channel a blocked Read sleeps on; spec.md §4.10:
// "commits by advancing w and waking channel = &r".
const readChan sleeplock.ChanTag = 3

// Console_t is the line editor sitting between the UART and read(2) on
// fd 0.
type Console_t struct {
	lock spinlock.Lock_t
	buf  [bufsize]byte
	r, w, e int

	decoder *encodingDecoder

	// Dump, when set, is called on Ctrl-P — wired to proc.Dump by boot
	// glue, restoring xv6 console.c's procdump hook (spec.md §12).
	Dump func()
}

// encodingDecoder is the sliver of golang.org/x/text's API this
// package needs: transform one input byte through the UTF8 codec and
// report what came out, reusable across calls.
type encodingDecoder struct {
	t transform.Transformer
}

func newDecoder() *encodingDecoder {
	return &encodingDecoder{t: unicode.UTF8.NewDecoder()}
}

// sanitize runs the single byte b through the UTF-8 decoder and returns
// the first byte of the decoder's output, or '?' if the decoder reports
// an error or produces nothing. A lone byte >= 0x80 never decodes as
// valid UTF-8, so the result is the first byte of the replacement
// character's encoding; multi-byte sequences are not reassembled.
func (d *encodingDecoder) sanitize(b byte) byte {
	dst := make([]byte, 4)
	nDst, _, err := d.t.Transform(dst, []byte{b}, true)
	d.t.Reset()
	if err != nil || nDst == 0 {
		return '?'
	}
	return dst[0]
}

func New() *Console_t {
	return &Console_t{lock: *spinlock.New("cons"), decoder: newDecoder()}
}

// Intr handles one byte arriving from the UART (spec.md §4.10, with
// Ctrl-P restored per §12).
func (c *Console_t) Intr(w sleeplock.Waiter, ch byte) {
	c.lock.Acquire()
	defer c.lock.Release()

	switch ch {
	case ctrlP:
		if c.Dump != nil {
			c.Dump()
		}
		return
	case ctrlU:
		for c.e != c.w && c.buf[(c.e-1)%bufsize] != '\n' {
			c.e--
		}
		return
	case ctrlH, 0x7f: // backspace / DEL
		if c.e != c.w {
			c.e--
		}
		return
	}

	if ch == '\r' {
		ch = '\n'
	} else if ch >= 0x80 {
		ch = c.decoder.sanitize(ch)
	}

	if c.e-c.r >= bufsize {
		return
	}
	c.buf[c.e%bufsize] = ch
	c.e++

	if ch == '\n' || ch == ctrlD || c.e-c.r == bufsize {
		c.w = c.e
		w.Wakeup(readChan)
	}
}

// Read copies up to len(dst) committed bytes into dst, blocking while
// none are available. Ctrl-D is never copied out: one that follows
// text ends the read and is dropped, while one at the start of a read
// is left in the buffer, so that read and every later one return 0
// (EOF).
func (c *Console_t) Read(w sleeplock.Waiter, dst []byte) int {
	c.lock.Acquire()
	for c.r == c.w {
		w.Sleep(readChan, &c.lock)
	}
	n := 0
	for n < len(dst) && c.r < c.w {
		ch := c.buf[c.r%bufsize]
		c.r++
		if ch == ctrlD {
			if n == 0 {
				c.r-- // let the caller see a zero-byte read (EOF)
			}
			break
		}
		dst[n] = ch
		n++
		if ch == '\n' {
			break
		}
	}
	c.lock.Release()
	return n
}
