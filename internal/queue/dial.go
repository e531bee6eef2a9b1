package queue

import (
	"context"
	"net"
	"time"
)

// dialer returns an amqp.Config.Dial func whose TCP connect is bounded by
// ctx, or by 5s when ctx has no deadline.
func dialer(ctx context.Context) func(network, addr string) (net.Conn, error) {
	return func(network, addr string) (net.Conn, error) {
		dctx, cancel := ctx, context.CancelFunc(func() {})
		if _, ok := ctx.Deadline(); !ok {
			dctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		}
		defer cancel()
		var d net.Dialer
		return d.DialContext(dctx, network, addr)
	}
}
