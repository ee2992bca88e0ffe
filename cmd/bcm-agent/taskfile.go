package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kstaniek/go-canbcm/internal/bcm"
	"github.com/kstaniek/go-canbcm/internal/can"
	"github.com/kstaniek/go-canbcm/internal/cgw"
	"gopkg.in/yaml.v3"
)

// taskFile is the YAML document passed with -tasks.
//
//	tasks:
//	  - id: 0x123
//	    interval2: 100ms
//	    frames: [{data: "01 02 03 04"}]
//	filters:
//	  - id: 0x200
//	    timeout: 1s
//	    frames: [{data: "FF 00"}]
//	routes:
//	  - src: vcan0
//	    dst: vcan1
//	    filter: {id: 0x100, mask: 0x7FF}
type taskFile struct {
	Tasks   []taskSpec   `yaml:"tasks"`
	Filters []filterSpec `yaml:"filters"`
	Routes  []routeSpec  `yaml:"routes"`
}

type frameSpec struct {
	ID     *uint32 `yaml:"id"` // defaults to the owning task id
	Data   string  `yaml:"data"`
	Len    *int    `yaml:"len"` // defaults to the data length
	BRS    bool    `yaml:"brs"`
	ESI    bool    `yaml:"esi"`
	Remote bool    `yaml:"rtr"`
}

type taskSpec struct {
	ID         uint32        `yaml:"id"`
	Extended   bool          `yaml:"extended"`
	FD         bool          `yaml:"fd"`
	Frames     []frameSpec   `yaml:"frames"`
	Count      uint32        `yaml:"count"`
	Interval1  time.Duration `yaml:"interval1"`
	Interval2  time.Duration `yaml:"interval2"`
	Start      *bool         `yaml:"start"` // default true
	CopyID     bool          `yaml:"copy_id"`
	CountEvent bool          `yaml:"count_event"`
	Announce   bool          `yaml:"announce"`
	ResetIndex bool          `yaml:"reset_index"`
}

type filterSpec struct {
	ID             uint32        `yaml:"id"`
	Extended       bool          `yaml:"extended"`
	FD             bool          `yaml:"fd"`
	Frames         []frameSpec   `yaml:"frames"`
	Timeout        time.Duration `yaml:"timeout"`
	RateLimit      time.Duration `yaml:"rate_limit"`
	FilterIDOnly   bool          `yaml:"filter_id_only"`
	CheckDLC       bool          `yaml:"check_dlc"`
	NoAutoTimer    bool          `yaml:"no_auto_timer"`
	ReplyToRTR     bool          `yaml:"rtr_reply"`
	AnnounceResume bool          `yaml:"announce_resume"`
}

type modSpec struct {
	ID     uint32   `yaml:"id"`
	Data   string   `yaml:"data"`
	Len    int      `yaml:"len"`
	Flags  uint8    `yaml:"flags"`
	Fields []string `yaml:"fields"` // id|len|data|flags
}

type xorSpec struct {
	From   int8  `yaml:"from"`
	To     int8  `yaml:"to"`
	Result int8  `yaml:"result"`
	Init   uint8 `yaml:"init"`
}

type crc8Spec struct {
	From        int8   `yaml:"from"`
	To          int8   `yaml:"to"`
	Result      int8   `yaml:"result"`
	Init        uint8  `yaml:"init"`
	FinalXOR    uint8  `yaml:"final_xor"`
	Poly        uint8  `yaml:"poly"`
	Profile     uint8  `yaml:"profile"`
	ProfileData string `yaml:"profile_data"`
}

type routeSpec struct {
	Src       string `yaml:"src"`
	Dst       string `yaml:"dst"`
	Echo      bool   `yaml:"echo"`
	SrcTstamp bool   `yaml:"src_tstamp"`
	IIFTxOK   bool   `yaml:"iif_tx_ok"`
	FD        bool   `yaml:"fd"`
	Filter    *struct {
		ID   uint32 `yaml:"id"`
		Mask uint32 `yaml:"mask"`
	} `yaml:"filter"`
	And  *modSpec  `yaml:"and"`
	Or   *modSpec  `yaml:"or"`
	Xor  *modSpec  `yaml:"xor"`
	Set  *modSpec  `yaml:"set"`
	XOR  *xorSpec  `yaml:"xor_checksum"`
	CRC8 *crc8Spec `yaml:"crc8_checksum"`
	Hops uint8     `yaml:"hops"`
	UID  uint32    `yaml:"uid"`
}

func loadTaskFile(path string) (*taskFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tf, err := parseTaskFile(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tf, nil
}

func parseTaskFile(b []byte) (*taskFile, error) {
	var tf taskFile
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&tf); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &tf, nil
}

func canID(id uint32, extended bool) uint32 {
	if extended || id > can.CAN_SFF_MASK {
		id |= can.CAN_EFF_FLAG
	}
	return id
}

func variantOf(fd bool) can.Variant {
	if fd {
		return can.FD
	}
	return can.Classic
}

func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("data %q: %w", s, err)
	}
	return b, nil
}

func (fs frameSpec) frame(owner uint32, v can.Variant) (can.Frame, error) {
	data, err := parseHex(fs.Data)
	if err != nil {
		return can.Frame{}, err
	}
	if len(data) > v.MaxLen() {
		return can.Frame{}, fmt.Errorf("data has %d bytes, %s max %d", len(data), v, v.MaxLen())
	}
	id := owner
	if fs.ID != nil {
		id = canID(*fs.ID, owner&can.CAN_EFF_FLAG != 0)
	}
	if fs.Remote {
		id |= can.CAN_RTR_FLAG
	}
	var f can.Frame
	if v == can.FD {
		var flags uint8
		if fs.BRS {
			flags |= can.CANFD_BRS
		}
		if fs.ESI {
			flags |= can.CANFD_ESI
		}
		f = can.NewFDFrame(id, data, flags)
	} else {
		f = can.NewFrame(id, data)
	}
	if fs.Len != nil {
		if *fs.Len < 0 || *fs.Len > v.MaxLen() {
			return can.Frame{}, fmt.Errorf("len %d out of range", *fs.Len)
		}
		f.Len = uint8(*fs.Len)
	}
	return f, nil
}

func framesOf(specs []frameSpec, owner uint32, v can.Variant) ([]can.Frame, error) {
	out := make([]can.Frame, 0, len(specs))
	for i, fs := range specs {
		f, err := fs.frame(owner, v)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// cyclicTasks converts and validates the tasks section.
func (tf *taskFile) cyclicTasks() ([]bcm.CyclicTxTask, error) {
	out := make([]bcm.CyclicTxTask, 0, len(tf.Tasks))
	for i, ts := range tf.Tasks {
		id := canID(ts.ID, ts.Extended)
		v := variantOf(ts.FD)
		frames, err := framesOf(ts.Frames, id, v)
		if err != nil {
			return nil, fmt.Errorf("tasks[%d]: %w", i, err)
		}
		t := bcm.CyclicTxTask{
			ID:                          id,
			Variant:                     v,
			Frames:                      frames,
			Count:                       ts.Count,
			Interval1:                   bcm.IntervalOf(ts.Interval1),
			Interval2:                   bcm.IntervalOf(ts.Interval2),
			SetInterval:                 ts.Interval1 != 0 || ts.Interval2 != 0,
			StartTimer:                  ts.Start == nil || *ts.Start,
			CopyCANID:                   ts.CopyID,
			NotifyFirstIntervalComplete: ts.CountEvent,
			AnnounceUpdate:              ts.Announce,
			ResetMultiIndex:             ts.ResetIndex,
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("tasks[%d]: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// rxFilters converts and validates the filters section.
func (tf *taskFile) rxFilters() ([]bcm.RxFilter, error) {
	out := make([]bcm.RxFilter, 0, len(tf.Filters))
	for i, fs := range tf.Filters {
		id := canID(fs.ID, fs.Extended)
		v := variantOf(fs.FD)
		frames, err := framesOf(fs.Frames, id, v)
		if err != nil {
			return nil, fmt.Errorf("filters[%d]: %w", i, err)
		}
		f := bcm.RxFilter{
			ID:             id,
			Variant:        v,
			Frames:         frames,
			Timeout:        bcm.IntervalOf(fs.Timeout),
			RateLimit:      bcm.IntervalOf(fs.RateLimit),
			SetTimer:       fs.Timeout != 0 || fs.RateLimit != 0,
			StartTimer:     fs.Timeout != 0,
			FilterByIDOnly: fs.FilterIDOnly,
			CheckDLC:       fs.CheckDLC,
			NoAutoTimer:    fs.NoAutoTimer,
			ReplyToRTR:     fs.ReplyToRTR,
			AnnounceResume: fs.AnnounceResume,
		}
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("filters[%d]: %w", i, err)
		}
		out = append(out, f)
	}
	return out, nil
}

func (m *modSpec) modification(v can.Variant) (*cgw.Modification, error) {
	if m == nil {
		return nil, nil
	}
	data, err := parseHex(m.Data)
	if err != nil {
		return nil, err
	}
	if len(data) > v.MaxLen() {
		return nil, fmt.Errorf("data has %d bytes, %s max %d", len(data), v, v.MaxLen())
	}
	if m.Len < 0 || m.Len > v.MaxLen() {
		return nil, fmt.Errorf("len %d out of range", m.Len)
	}
	var fields cgw.ModType
	for _, name := range m.Fields {
		switch strings.ToLower(name) {
		case "id":
			fields |= cgw.ModID
		case "len", "dlc":
			fields |= cgw.ModLen
		case "data":
			fields |= cgw.ModData
		case "flags":
			fields |= cgw.ModFlags
		default:
			return nil, fmt.Errorf("unknown modification field %q", name)
		}
	}
	if fields == 0 {
		return nil, fmt.Errorf("modification selects no fields")
	}
	mod := &cgw.Modification{Fields: fields}
	mod.Frame.CANID = m.ID
	mod.Frame.Len = uint8(m.Len)
	mod.Frame.Flags = m.Flags
	copy(mod.Frame.Data[:], data)
	return mod, nil
}

// gatewayRules converts the routes section. resolve maps interface names to
// indices; it is cgw.ResolveIfIndex outside tests.
func (tf *taskFile) gatewayRules(resolve func(string) (uint32, error)) ([]cgw.Rule, error) {
	out := make([]cgw.Rule, 0, len(tf.Routes))
	for i, rs := range tf.Routes {
		r, err := rs.rule(resolve)
		if err != nil {
			return nil, fmt.Errorf("routes[%d]: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (rs routeSpec) rule(resolve func(string) (uint32, error)) (cgw.Rule, error) {
	var r cgw.Rule
	var err error
	if r.SrcIf, err = resolve(rs.Src); err != nil {
		return r, err
	}
	if r.DstIf, err = resolve(rs.Dst); err != nil {
		return r, err
	}
	if rs.Echo {
		r.Flags |= cgw.FlagEcho
	}
	if rs.SrcTstamp {
		r.Flags |= cgw.FlagSrcTstamp
	}
	if rs.IIFTxOK {
		r.Flags |= cgw.FlagIIFTxOK
	}
	if rs.FD {
		r.Flags |= cgw.FlagFD
	}
	if rs.Filter != nil {
		r.Filter = &can.Filter{CANID: rs.Filter.ID, Mask: rs.Filter.Mask}
	}
	v := r.Variant()
	for _, m := range []struct {
		name string
		spec *modSpec
		dst  **cgw.Modification
	}{{"and", rs.And, &r.And}, {"or", rs.Or, &r.Or}, {"xor", rs.Xor, &r.Xor}, {"set", rs.Set, &r.Set}} {
		if *m.dst, err = m.spec.modification(v); err != nil {
			return r, fmt.Errorf("%s: %w", m.name, err)
		}
	}
	if rs.XOR != nil {
		r.XOR = &cgw.XORChecksum{From: rs.XOR.From, To: rs.XOR.To, Result: rs.XOR.Result, Init: rs.XOR.Init}
	}
	if c := rs.CRC8; c != nil {
		pd, err := parseHex(c.ProfileData)
		if err != nil {
			return r, fmt.Errorf("crc8: %w", err)
		}
		crc := &cgw.CRC8Checksum{
			From: c.From, To: c.To, Result: c.Result,
			Init: c.Init, FinalXOR: c.FinalXOR,
			Table:   cgw.CRC8Table(c.Poly),
			Profile: cgw.CRC8Profile(c.Profile),
		}
		if len(pd) > len(crc.ProfileData) {
			return r, fmt.Errorf("crc8: profile_data has %d bytes, max %d", len(pd), len(crc.ProfileData))
		}
		copy(crc.ProfileData[:], pd)
		r.CRC8 = crc
	}
	r.HopLimit = rs.Hops
	r.UID = rs.UID
	return r, r.Validate()
}
