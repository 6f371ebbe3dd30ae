package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// CopyStats counts the bytes CopyBidirectional moved in each direction.
type CopyStats struct {
	LeftToRight int64
	RightToLeft int64
}

// CopyBidirectional relays bytes between left and right until both
// directions are done, then closes both connections.
//
// A direction that reaches EOF half-closes its destination when it supports
// CloseWrite, leaving the other direction to finish on its own; otherwise
// both connections are closed. A direction that fails closes both
// connections, and its error is returned once the other direction has also
// stopped. Canceling ctx closes both connections.
//
// If idleTimeout is positive, the relay fails once no bytes have been read
// from either side for that long, or a single write blocks that long.
func CopyBidirectional(ctx context.Context, left, right net.Conn, idleTimeout time.Duration) (CopyStats, error) {
	var (
		closeOnce sync.Once
		closed    atomic.Bool
	)
	closeBoth := func() {
		closeOnce.Do(func() {
			closed.Store(true)
			_ = left.Close()
			_ = right.Close()
		})
	}
	defer closeBoth()

	stop := context.AfterFunc(ctx, closeBoth)

	var (
		errOnce  sync.Once
		firstErr error
	)
	// Errors after a deliberate close are just the other direction unblocking.
	fail := func(err error) {
		if !closed.Load() {
			errOnce.Do(func() { firstErr = err })
		}
		closeBoth()
	}

	idle := newIdleTimer(left, right, idleTimeout)

	var st CopyStats
	var g errgroup.Group

	g.Go(func() error {
		n, err := copyHalf(right, left, idle)
		st.LeftToRight = n
		if err != nil {
			fail(err)
		} else if !closeWrite(right) {
			closeBoth()
		}
		return nil
	})

	g.Go(func() error {
		n, err := copyHalf(left, right, idle)
		st.RightToLeft = n
		if err != nil {
			fail(err)
		} else if !closeWrite(left) {
			closeBoth()
		}
		return nil
	})

	_ = g.Wait()

	if !stop() {
		return st, context.Cause(ctx)
	}
	return st, firstErr
}

func copyHalf(dst, src net.Conn, idle *idleTimer) (int64, error) {
	buf := copyBuffers.Get()
	defer copyBuffers.Put(buf)

	if idle == nil {
		return io.CopyBuffer(dst, src, buf)
	}
	n, err := io.CopyBuffer(idle.writer(dst), idle.reader(src), buf)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		err = fmt.Errorf("idle for %s: %w", idle.timeout, err)
	}
	return n, err
}

type closeWriter interface {
	CloseWrite() error
}

// closeWrite half-closes c, reporting whether that was possible.
func closeWrite(c net.Conn) bool {
	cw, ok := c.(closeWriter)
	if !ok {
		return false
	}
	return cw.CloseWrite() == nil
}

// idleTimer pushes both read deadlines forward whenever either side reads.
type idleTimer struct {
	left, right net.Conn
	timeout     time.Duration
}

func newIdleTimer(left, right net.Conn, timeout time.Duration) *idleTimer {
	if timeout <= 0 {
		return nil
	}
	t := &idleTimer{left: left, right: right, timeout: timeout}
	t.touch()
	return t
}

func (t *idleTimer) touch() {
	dl := time.Now().Add(t.timeout)
	_ = t.left.SetReadDeadline(dl)
	_ = t.right.SetReadDeadline(dl)
}

func (t *idleTimer) reader(c net.Conn) io.Reader {
	return readerFunc(func(p []byte) (int, error) {
		n, err := c.Read(p)
		if n > 0 {
			t.touch()
		}
		return n, err
	})
}

func (t *idleTimer) writer(c net.Conn) io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		_ = c.SetWriteDeadline(time.Now().Add(t.timeout))
		return c.Write(p)
	})
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
