package cgw

import (
	"fmt"
	"iter"
	"log/slog"

	"github.com/kstaniek/go-canbcm/internal/logging"
	"github.com/kstaniek/go-canbcm/internal/metrics"
	"github.com/mdlayher/netlink"
)

// Client manages gateway jobs over one NETLINK_ROUTE socket. Requests that
// expect an acknowledgement go through netlink.Conn; dumps read the socket
// batch by batch. Like the socket itself it is meant for one goroutine.
type Client struct {
	sock   netlink.Socket
	conn   *netlink.Conn
	logger *slog.Logger
}

type ClientOption func(*Client)

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient wraps an open socket. Dial opens the kernel socket on Linux;
// tests pass fakes.
func NewClient(sock netlink.Socket, opts ...ClientOption) *Client {
	c := &Client{
		sock:   sock,
		conn:   netlink.NewConn(sock, 0),
		logger: logging.Component("cgw"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Close closes the underlying socket.
func (c *Client) Close() error { return c.conn.Close() }

// AddRule creates a gateway job. A rule with a UID that matches an existing
// job replaces that job's modifications instead.
func (c *Client) AddRule(r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return c.execute("add", rtmNewRoute, netlink.Create, r)
}

// DeleteRule removes the job matching r. Both interfaces are required: the
// kernel reads a request without them as a flush.
func (c *Client) DeleteRule(r Rule) error {
	if r.SrcIf == 0 || r.DstIf == 0 {
		return fmt.Errorf("%w: %w: src=%d dst=%d", ErrValidation, ErrMissingInterface, r.SrcIf, r.DstIf)
	}
	return c.execute("delete", rtmDelRoute, 0, r)
}

// Flush removes every gateway job.
func (c *Client) Flush() error {
	return c.execute("flush", rtmDelRoute, 0, Rule{})
}

func (c *Client) execute(op string, typ netlink.HeaderType, flags netlink.HeaderFlags, r Rule) error {
	data, err := MarshalRule(r)
	if err != nil {
		return err
	}
	metrics.IncCGWRequest(op)
	_, err = c.conn.Execute(netlink.Message{
		Header: netlink.Header{Type: typ, Flags: netlink.Request | netlink.Acknowledge | flags},
		Data:   data,
	})
	if err != nil {
		metrics.IncError(metrics.ErrCGW)
		return fmt.Errorf("cgw %s: %w", op, err)
	}
	c.logger.Debug("cgw_rule_"+op, "src_if", r.SrcIf, "dst_if", r.DstIf, "flags", uint16(r.Flags))
	return nil
}

// Dump sends a dump request and returns the iterator over its reply.
func (c *Client) Dump() (*Dump, error) {
	metrics.IncCGWRequest("dump")
	req, err := c.conn.Send(netlink.Message{
		Header: netlink.Header{Type: rtmGetRoute, Flags: netlink.Request | netlink.Dump},
		Data:   RtCanMsg{Family: afCAN, GwType: gwCANCAN}.marshal(),
	})
	if err != nil {
		metrics.IncError(metrics.ErrCGW)
		return nil, fmt.Errorf("cgw dump: %w", err)
	}
	return NewDump(c.sock, req.Header.Sequence), nil
}

// Rules lists all gateway jobs. Every range over the result issues a fresh
// dump; a failure is yielded once as the final element.
func (c *Client) Rules() iter.Seq2[Rule, error] {
	return func(yield func(Rule, error) bool) {
		d, err := c.Dump()
		if err != nil {
			yield(Rule{}, err)
			return
		}
		defer func() { metrics.AddCGWRulesDumped(d.Count()) }()
		for d.Next() {
			for _, r := range d.Batch() {
				if !yield(r, nil) {
					d.drain()
					return
				}
			}
		}
		if err := d.Err(); err != nil {
			metrics.IncError(metrics.ErrCGW)
			yield(Rule{}, err)
		}
	}
}
