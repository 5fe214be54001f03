package redis

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"time"
)

type conn struct {
	nc  net.Conn
	r   *bufio.Reader
	buf []byte
}

// roundTrip writes every command, then reads one reply per command. Error
// replies are kept in place as ServerError values; any other failure leaves
// the stream out of sync and is returned.
func (c *conn) roundTrip(ctx context.Context, opts Options, cmds ...[]string) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.buf = c.buf[:0]
	for _, cmd := range cmds {
		c.buf = appendCommand(c.buf, cmd...)
	}
	if err := c.nc.SetWriteDeadline(deadline(ctx, opts.WriteTimeout)); err != nil {
		return nil, err
	}
	if _, err := c.nc.Write(c.buf); err != nil {
		return nil, err
	}

	if err := c.nc.SetReadDeadline(deadline(ctx, opts.ReadTimeout)); err != nil {
		return nil, err
	}
	replies := make([]any, len(cmds))
	for i := range cmds {
		v, err := readReply(c.r)
		var se ServerError
		switch {
		case errors.As(err, &se):
			replies[i] = se
		case err != nil:
			return nil, err
		default:
			replies[i] = v
		}
	}
	return replies, nil
}

// deadline picks the earlier of the context deadline and now+timeout. A zero
// result clears the deadline.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}

type dialFunc func(context.Context, Options) (net.Conn, error)

func defaultDial(ctx context.Context, opts Options) (net.Conn, error) {
	d := &net.Dialer{Timeout: opts.DialTimeout}
	return d.DialContext(ctx, "tcp", opts.Addr)
}

// pool keeps up to PoolSize idle connections. Connections are dialed on
// demand, so the number in use is not bounded.
type pool struct {
	opts Options
	dial dialFunc
	idle chan *conn
}

func newPool(opts Options) *pool {
	return &pool{opts: opts, dial: defaultDial, idle: make(chan *conn, opts.PoolSize)}
}

func (p *pool) get(ctx context.Context) (*conn, error) {
	select {
	case c := <-p.idle:
		return c, nil
	default:
	}

	nc, err := p.dial(ctx, p.opts)
	if err != nil {
		return nil, err
	}
	c := &conn{nc: nc, r: bufio.NewReader(nc)}
	if err := p.handshake(ctx, c); err != nil {
		_ = nc.Close()
		return nil, err
	}
	return c, nil
}

// put returns c to the pool unless err shows the stream can no longer be
// trusted.
func (p *pool) put(c *conn, err error) {
	var se ServerError
	if err != nil && !errors.As(err, &se) {
		_ = c.nc.Close()
		return
	}
	select {
	case p.idle <- c:
	default:
		_ = c.nc.Close()
	}
}

func (p *pool) handshake(ctx context.Context, c *conn) error {
	var cmds [][]string
	if p.opts.Password != "" {
		cmds = append(cmds, []string{"AUTH", p.opts.Password})
	}
	if p.opts.DB > 0 {
		cmds = append(cmds, []string{"SELECT", strconv.Itoa(p.opts.DB)})
	}
	if len(cmds) == 0 {
		return nil
	}
	replies, err := c.roundTrip(ctx, p.opts, cmds...)
	if err != nil {
		return err
	}
	for _, r := range replies {
		if se, ok := r.(ServerError); ok {
			return se
		}
	}
	return nil
}

func (p *pool) drain() {
	for {
		select {
		case c := <-p.idle:
			_ = c.nc.Close()
		default:
			return
		}
	}
}
