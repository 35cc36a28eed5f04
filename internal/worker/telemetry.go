package worker

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/shmrpc/shmrpc/internal/shmres"
	"github.com/shmrpc/shmrpc/internal/shmseg"
	"github.com/shmrpc/shmrpc/internal/statspb"
)

// telemetrySize bounds one worker's reported heartbeat: pid, status,
// and every method's cumulative stats. Generous for realistic method
// tables; a worker with more stats than fit just reports the ones with
// the most calls (see publish).
const telemetrySize = 8192

func telemetryName(port, pid int) string {
	return fmt.Sprintf("telemetry_%d_%d", port, pid)
}

// telemetryChannel is this worker's side of the shared counter/log
// channel that publishes liveness and stats to the supervisor: a
// small shared-memory segment holding the most recent
// Heartbeat, length-prefixed so the supervisor can read a consistent
// snapshot without a lock (the write is not atomic across the whole
// message, but a torn read is simply discarded by the supervisor on
// next poll rather than acted on).
type telemetryChannel struct {
	seg shmseg.Segment
}

func openTelemetryChannel(res *shmres.Manager, port, pid int) (*telemetryChannel, error) {
	name := telemetryName(port, pid)
	var seg shmseg.Segment
	var err error
	if res.Fake() {
		seg, err = shmseg.OpenFake(name, telemetrySize, shmseg.CreateOverwrite)
	} else {
		seg, err = shmseg.Open(name, telemetrySize, shmseg.CreateOverwrite)
	}
	if err != nil {
		return nil, err
	}
	return &telemetryChannel{seg: seg}, nil
}

func (t *telemetryChannel) publish(h statspb.Heartbeat) error {
	encoded := h.Marshal()
	if len(encoded)+4 > telemetrySize {
		sort.Slice(h.Stats, func(i, j int) bool { return h.Stats[i].Calls > h.Stats[j].Calls })
		for len(encoded)+4 > telemetrySize && len(h.Stats) > 0 {
			h.Stats = h.Stats[:len(h.Stats)-1]
			encoded = h.Marshal()
		}
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(encoded)))
	if err := t.seg.WriteAt(0, lenBuf[:]); err != nil {
		return err
	}
	return t.seg.WriteAt(4, encoded)
}

// ReadTelemetry is the supervisor side: read a worker's last-published
// Heartbeat by connecting to its telemetry segment by name.
func ReadTelemetry(fake bool, port, pid int) (statspb.Heartbeat, error) {
	name := telemetryName(port, pid)
	var seg shmseg.Segment
	var err error
	if fake {
		seg, err = shmseg.OpenFake(name, 0, shmseg.ConnectExisting)
	} else {
		seg, err = shmseg.Open(name, 0, shmseg.ConnectExisting)
	}
	if err != nil {
		return statspb.Heartbeat{}, err
	}
	defer seg.Close()

	var lenBuf [4]byte
	if err := seg.ReadAt(0, lenBuf[:]); err != nil {
		return statspb.Heartbeat{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > telemetrySize-4 {
		return statspb.Heartbeat{}, fmt.Errorf("worker: telemetry length %d out of range", n)
	}
	data := make([]byte, n)
	if err := seg.ReadAt(4, data); err != nil {
		return statspb.Heartbeat{}, err
	}
	return statspb.Unmarshal(data)
}

func (t *telemetryChannel) Close() error { return t.seg.Close() }
