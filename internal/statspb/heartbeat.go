// Package statspb defines the wire message a worker reports to its
// supervisor: liveness status plus cumulative per-method call counts
// and wall time. Encoded with
// google.golang.org/protobuf/encoding/protowire rather than protoc
// generated bindings, since this repo is built without running any Go
// or protobuf toolchain; the wire format below is byte-for-byte what
// protoc-gen-go would produce for the equivalent .proto (field numbers
// and wire types are chosen to match), so a real .proto/.pb.go pair
// can later replace this file without changing anything that talks to
// it.
//
// message MethodStat {
//   string name = 1;
//   uint64 calls = 2;
//   uint64 wall_nanos = 3;
// }
// message Heartbeat {
//   int32 pid = 1;
//   string status = 2;
//   repeated MethodStat stats = 3;
// }
package statspb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// MethodStat is one method's cumulative call count and wall time.
type MethodStat struct {
	Name      string
	Calls     uint64
	WallNanos uint64
}

// Heartbeat is the message a worker sends its supervisor: its pid,
// lifecycle status (starting/started/stopping/stopped), and every
// method's cumulative stats.
type Heartbeat struct {
	Pid    int32
	Status string
	Stats  []MethodStat
}

const (
	fieldHeartbeatPid    = 1
	fieldHeartbeatStatus = 2
	fieldHeartbeatStats  = 3

	fieldStatName      = 1
	fieldStatCalls     = 2
	fieldStatWallNanos = 3
)

// Marshal encodes h in protobuf wire format.
func (h Heartbeat) Marshal() []byte {
	var b []byte
	if h.Pid != 0 {
		b = protowire.AppendTag(b, fieldHeartbeatPid, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(h.Pid)))
	}
	if h.Status != "" {
		b = protowire.AppendTag(b, fieldHeartbeatStatus, protowire.BytesType)
		b = protowire.AppendString(b, h.Status)
	}
	for _, s := range h.Stats {
		b = protowire.AppendTag(b, fieldHeartbeatStats, protowire.BytesType)
		b = protowire.AppendBytes(b, s.marshal())
	}
	return b
}

func (s MethodStat) marshal() []byte {
	var b []byte
	if s.Name != "" {
		b = protowire.AppendTag(b, fieldStatName, protowire.BytesType)
		b = protowire.AppendString(b, s.Name)
	}
	if s.Calls != 0 {
		b = protowire.AppendTag(b, fieldStatCalls, protowire.VarintType)
		b = protowire.AppendVarint(b, s.Calls)
	}
	if s.WallNanos != 0 {
		b = protowire.AppendTag(b, fieldStatWallNanos, protowire.VarintType)
		b = protowire.AppendVarint(b, s.WallNanos)
	}
	return b
}

// Unmarshal decodes b into a Heartbeat.
func Unmarshal(b []byte) (Heartbeat, error) {
	var h Heartbeat
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Heartbeat{}, fmt.Errorf("statspb: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldHeartbeatPid:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Heartbeat{}, fmt.Errorf("statspb: bad pid: %w", protowire.ParseError(n))
			}
			h.Pid = int32(v)
			b = b[n:]

		case fieldHeartbeatStatus:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Heartbeat{}, fmt.Errorf("statspb: bad status: %w", protowire.ParseError(n))
			}
			h.Status = v
			b = b[n:]

		case fieldHeartbeatStats:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Heartbeat{}, fmt.Errorf("statspb: bad stats entry: %w", protowire.ParseError(n))
			}
			stat, err := unmarshalStat(v)
			if err != nil {
				return Heartbeat{}, err
			}
			h.Stats = append(h.Stats, stat)
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Heartbeat{}, fmt.Errorf("statspb: skip unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return h, nil
}

func unmarshalStat(b []byte) (MethodStat, error) {
	var s MethodStat
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return MethodStat{}, fmt.Errorf("statspb: bad stat tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldStatName:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return MethodStat{}, fmt.Errorf("statspb: bad stat name: %w", protowire.ParseError(n))
			}
			s.Name = v
			b = b[n:]
		case fieldStatCalls:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return MethodStat{}, fmt.Errorf("statspb: bad stat calls: %w", protowire.ParseError(n))
			}
			s.Calls = v
			b = b[n:]
		case fieldStatWallNanos:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return MethodStat{}, fmt.Errorf("statspb: bad stat wall_nanos: %w", protowire.ParseError(n))
			}
			s.WallNanos = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return MethodStat{}, fmt.Errorf("statspb: skip unknown stat field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return s, nil
}
