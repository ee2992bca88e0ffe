package cgw

import (
	"fmt"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
)

// rtnetlink message types for gateway jobs (RTM_*ROUTE with family AF_CAN).
const (
	rtmNewRoute netlink.HeaderType = 24
	rtmDelRoute netlink.HeaderType = 25
	rtmGetRoute netlink.HeaderType = 26
)

const nlmsgHeaderLen = 16

func nlmsgAlign(n int) int { return (n + 3) &^ 3 }

// marshalMessages lays out messages back to back as one datagram.
func marshalMessages(msgs []netlink.Message) []byte {
	var size int
	for _, m := range msgs {
		size += nlmsgAlign(nlmsgHeaderLen + len(m.Data))
	}
	b := make([]byte, size)
	off := 0
	for _, m := range msgs {
		l := nlmsgHeaderLen + len(m.Data)
		nlenc.PutUint32(b[off:off+4], uint32(l))
		nlenc.PutUint16(b[off+4:off+6], uint16(m.Header.Type))
		nlenc.PutUint16(b[off+6:off+8], uint16(m.Header.Flags))
		nlenc.PutUint32(b[off+8:off+12], m.Header.Sequence)
		nlenc.PutUint32(b[off+12:off+16], m.Header.PID)
		copy(b[off+nlmsgHeaderLen:], m.Data)
		off += nlmsgAlign(l)
	}
	return b
}

// parseMessages splits one received datagram into netlink messages.
func parseMessages(b []byte) ([]netlink.Message, error) {
	var msgs []netlink.Message
	for len(b) > 0 {
		if len(b) < nlmsgHeaderLen {
			return nil, decodeErr(ErrTruncatedAttribute, "netlink header needs %d bytes, have %d", nlmsgHeaderLen, len(b))
		}
		l := int(nlenc.Uint32(b[0:4]))
		if l < nlmsgHeaderLen || l > len(b) {
			return nil, decodeErr(ErrTruncatedAttribute, "netlink message length %d, have %d", l, len(b))
		}
		data := make([]byte, l-nlmsgHeaderLen)
		copy(data, b[nlmsgHeaderLen:l])
		msgs = append(msgs, netlink.Message{
			Header: netlink.Header{
				Length:   uint32(l),
				Type:     netlink.HeaderType(nlenc.Uint16(b[4:6])),
				Flags:    netlink.HeaderFlags(nlenc.Uint16(b[6:8])),
				Sequence: nlenc.Uint32(b[8:12]),
				PID:      nlenc.Uint32(b[12:16]),
			},
			Data: data,
		})
		next := nlmsgAlign(l)
		if next > len(b) {
			next = len(b)
		}
		b = b[next:]
	}
	return msgs, nil
}

// errnoOf extracts the int32 status that leads NLMSG_ERROR and, with
// extended acks, NLMSG_DONE payloads. Zero means success.
func errnoOf(m netlink.Message) (int32, error) {
	if len(m.Data) < 4 {
		if m.Header.Type == netlink.Done {
			return 0, nil
		}
		return 0, decodeErr(ErrTruncatedAttribute, "error message with %d bytes", len(m.Data))
	}
	return nlenc.Int32(m.Data[0:4]), nil
}

func describe(m netlink.Message) string {
	return fmt.Sprintf("type=%d flags=%#x seq=%d len=%d", m.Header.Type, uint16(m.Header.Flags), m.Header.Sequence, len(m.Data))
}
