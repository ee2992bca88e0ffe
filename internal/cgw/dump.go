package cgw

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/mdlayher/netlink"
)

// ErrDumpFailed wraps the errno carried by an NLMSG_ERROR that ends a dump.
var ErrDumpFailed = errors.New("cgw: dump failed")

// Receiver returns the messages of one read from a netlink socket.
// netlink.Socket satisfies it.
type Receiver interface {
	Receive() ([]netlink.Message, error)
}

// Dump walks the reply to one RTM_GETROUTE dump request. Each Next call
// consumes exactly one read and exposes the rules it carried; iteration ends
// on NLMSG_DONE, on NLMSG_ERROR, or on a read error.
//
//	d := client.Dump()
//	for d.Next() {
//		for _, r := range d.Batch() { ... }
//	}
//	if err := d.Err(); err != nil { ... }
type Dump struct {
	rx    Receiver
	seq   uint32
	batch []Rule
	done  bool
	err   error
	n     int
}

// NewDump reads the reply to the request with sequence number seq. A zero seq
// accepts any sequence.
func NewDump(rx Receiver, seq uint32) *Dump { return &Dump{rx: rx, seq: seq} }

// Next reads the next batch. It returns false once the dump has terminated.
func (d *Dump) Next() bool {
	if d.done || d.err != nil {
		return false
	}
	msgs, err := d.rx.Receive()
	if err != nil {
		d.err = fmt.Errorf("cgw dump: receive: %w", err)
		return false
	}
	d.batch = nil
	for _, m := range msgs {
		if d.seq != 0 && m.Header.Sequence != d.seq {
			continue
		}
		switch m.Header.Type {
		case netlink.Done, netlink.Error:
			code, err := errnoOf(m)
			switch {
			case err != nil:
				d.err = err
			case code < 0:
				d.err = fmt.Errorf("%w: %w", ErrDumpFailed, syscall.Errno(-code))
			}
			d.done = true
		case rtmNewRoute:
			r, err := UnmarshalRule(m.Data)
			if errors.Is(err, ErrUnsupportedGateway) {
				continue
			}
			if err != nil {
				d.err = fmt.Errorf("cgw dump: %s: %w", describe(m), err)
				return false
			}
			d.batch = append(d.batch, r)
			if m.Header.Flags&netlink.Multi == 0 {
				d.done = true
			}
		}
		if d.done {
			break
		}
	}
	if d.err != nil {
		d.batch = nil
		return false
	}
	d.n += len(d.batch)
	return len(d.batch) > 0 || !d.done
}

// Batch returns the rules read by the last successful Next call.
func (d *Dump) Batch() []Rule { return d.batch }

// Err returns the error that stopped the dump, if any.
func (d *Dump) Err() error { return d.err }

// Done reports whether the terminating message has been seen.
func (d *Dump) Done() bool { return d.done }

// drain consumes the rest of the reply so the socket is clean for the next request.
func (d *Dump) drain() {
	for d.Next() {
	}
}

// Count is the number of rules yielded so far.
func (d *Dump) Count() int { return d.n }
