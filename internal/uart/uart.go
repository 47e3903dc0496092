// Package uart is the serial line driver spec.md §4.10 describes: a
// bounded circular transmit buffer guarded by one spinlock, sleeping
// when full and waking on drain, plus a lock-free synchronous putc used
// by panic/printf paths that can't afford to block.
//
// Grounded on circbuf/circbuf.go's head/tail ring arithmetic, adapted
// from its page-allocator-backed variable-size buffer (sized to fit in
// one physical page, shared with pipes) to a small fixed-size array —
// the UART only ever needs room for a few bytes of line-rate transmit
// slack, not a full page.
package uart

import (
	"fmt"

	"sv39kernel/internal/sleeplock"
	"sv39kernel/internal/spinlock"
)

const txBufSize = 32

// txChan is the wait channel for "transmit buffer has room"
// (spec.md §4.10's "sleep on full ... channel = read-index").
const txChan sleeplock.ChanTag = 2

// Uart_t is the hosted stand-in for a 16550-style UART: Putc writes
// straight to the console's backing writer (stdout, in this build);
// the ring below exists so PutcAsync can exercise the same
// full/sleep/drain discipline real UART hardware forces, even though
// nothing here is actually rate-limited.
type Uart_t struct {
	lock     spinlock.Lock_t
	buf      [txBufSize]byte
	r, w     int // read/write indices, mod txBufSize; w-r is bytes queued
	Rx       chan byte // simulated receive: bytes arriving from the host terminal
}

func New() *Uart_t {
	return &Uart_t{lock: *spinlock.New("uart"), Rx: make(chan byte, 256)}
}

// Putc writes one byte synchronously, polling no hardware register
// here (there is none) but never touching the lock either — this is
// the panic/printf path, which must not block on another holder.
func (u *Uart_t) Putc(c byte) {
	fmt.Printf("%c", c)
}

// PutcAsync queues c for transmission, sleeping while the ring is full.
func (u *Uart_t) PutcAsync(w sleeplock.Waiter, c byte) {
	u.lock.Acquire()
	for u.w-u.r == txBufSize {
		w.Sleep(txChan, &u.lock)
	}
	u.buf[u.w%txBufSize] = c
	u.w++
	u.lock.Release()
	u.drain()
}

// drain flushes whatever is queued. On real hardware this only moves
// bytes while the line-status register reports room; here every byte
// is "transmittable" immediately.
func (u *Uart_t) drain() {
	u.lock.Acquire()
	for u.r != u.w {
		c := u.buf[u.r%txBufSize]
		u.r++
		u.lock.Release()
		u.Putc(c)
		u.lock.Acquire()
	}
	u.lock.Release()
}

// Intr services a UART interrupt: drain received bytes to rx (the
// console line editor reads from there) and push more of the transmit
// ring, per spec.md §4.10.
func (u *Uart_t) Intr(rx func(byte)) {
	for {
		select {
		case c := <-u.Rx:
			rx(c)
		default:
			goto drainTx
		}
	}
drainTx:
	u.drain()
}

// Wakeup releases any PutcAsync waiter blocked on a full ring — callers
// invoke this after drain makes room, per spec.md "wake on drain".
func (u *Uart_t) Wakeup(w sleeplock.Waiter) {
	w.Wakeup(txChan)
}
