package proxy

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type closeWriter interface {
	CloseWrite() error
}

// CopyBidirectional relays between left and right until both directions
// reach EOF or ctx is canceled. Both conns are closed on return.
//
// When one side finishes sending, the other side's write half is closed if
// it supports that; otherwise both conns are closed.
func CopyBidirectional(ctx context.Context, left, right net.Conn) error {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = left.Close()
			_ = right.Close()
		})
	}
	defer closeBoth()

	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	copyHalf := func(dst, src net.Conn) error {
		_, err := io.Copy(dst, src)
		if cw, ok := dst.(closeWriter); ok {
			_ = cw.CloseWrite()
		} else {
			closeBoth()
		}
		if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			return nil
		}
		return err
	}

	var g errgroup.Group
	g.Go(func() error { return copyHalf(left, right) })
	g.Go(func() error { return copyHalf(right, left) })

	err := g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
