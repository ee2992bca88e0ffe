package bcm

import (
	"fmt"
	"strings"
)

// Opcode is the bcm_msg_head.opcode field.
type Opcode uint32

// Request opcodes (userspace -> kernel) and notifications (kernel -> userspace),
// same values as <linux/can/bcm.h>.
const (
	TX_SETUP   Opcode = iota + 1 // create (cyclic) transmission task
	TX_DELETE                    // remove (cyclic) transmission task
	TX_READ                      // read properties of (cyclic) transmission task
	TX_SEND                      // send one CAN frame
	RX_SETUP                     // create RX content filter subscription
	RX_DELETE                    // remove RX content filter subscription
	RX_READ                      // read properties of RX content filter subscription
	TX_STATUS                    // reply to TX_READ request
	TX_EXPIRED                   // notification on performed transmissions (count=0)
	RX_STATUS                    // reply to RX_READ request
	RX_TIMEOUT                   // cyclic message is absent
	RX_CHANGED                   // updated CAN frame (detected content change)
)

var opcodeNames = [...]string{
	TX_SETUP:   "TX_SETUP",
	TX_DELETE:  "TX_DELETE",
	TX_READ:    "TX_READ",
	TX_SEND:    "TX_SEND",
	RX_SETUP:   "RX_SETUP",
	RX_DELETE:  "RX_DELETE",
	RX_READ:    "RX_READ",
	TX_STATUS:  "TX_STATUS",
	TX_EXPIRED: "TX_EXPIRED",
	RX_STATUS:  "RX_STATUS",
	RX_TIMEOUT: "RX_TIMEOUT",
	RX_CHANGED: "RX_CHANGED",
}

func (o Opcode) String() string {
	if o.Valid() {
		return opcodeNames[o]
	}
	return fmt.Sprintf("OPCODE(%d)", uint32(o))
}

// Valid reports whether o is one of the twelve defined opcodes.
func (o Opcode) Valid() bool { return o >= TX_SETUP && o <= RX_CHANGED }

// IsRequest reports whether o is sent by userspace rather than the kernel.
func (o Opcode) IsRequest() bool { return o >= TX_SETUP && o <= RX_READ }

// Flags is the bcm_msg_head.flags bitmask.
type Flags uint32

const (
	SETTIMER           Flags = 0x0001
	STARTTIMER         Flags = 0x0002
	TX_COUNTEVT        Flags = 0x0004
	TX_ANNOUNCE        Flags = 0x0008
	TX_CP_CAN_ID       Flags = 0x0010
	RX_FILTER_ID       Flags = 0x0020
	RX_CHECK_DLC       Flags = 0x0040
	RX_NO_AUTOTIMER    Flags = 0x0080
	RX_ANNOUNCE_RESUME Flags = 0x0100
	TX_RESET_MULTI_IDX Flags = 0x0200
	RX_RTR_FRAME       Flags = 0x0400
	CAN_FD_FRAME       Flags = 0x0800
)

var flagNames = []struct {
	f    Flags
	name string
}{
	{SETTIMER, "SETTIMER"},
	{STARTTIMER, "STARTTIMER"},
	{TX_COUNTEVT, "TX_COUNTEVT"},
	{TX_ANNOUNCE, "TX_ANNOUNCE"},
	{TX_CP_CAN_ID, "TX_CP_CAN_ID"},
	{RX_FILTER_ID, "RX_FILTER_ID"},
	{RX_CHECK_DLC, "RX_CHECK_DLC"},
	{RX_NO_AUTOTIMER, "RX_NO_AUTOTIMER"},
	{RX_ANNOUNCE_RESUME, "RX_ANNOUNCE_RESUME"},
	{TX_RESET_MULTI_IDX, "TX_RESET_MULTI_IDX"},
	{RX_RTR_FRAME, "RX_RTR_FRAME"},
	{CAN_FD_FRAME, "CAN_FD_FRAME"},
}

// Has reports whether all bits of g are set in f.
func (f Flags) Has(g Flags) bool { return f&g == g }

func (f Flags) String() string {
	if f == 0 {
		return "0"
	}
	var parts []string
	rest := f
	for _, fn := range flagNames {
		if f&fn.f != 0 {
			parts = append(parts, fn.name)
			rest &^= fn.f
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%X", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// set returns f with g set when on is true.
func (f Flags) set(g Flags, on bool) Flags {
	if on {
		return f | g
	}
	return f
}
