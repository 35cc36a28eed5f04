package shmres

import "fmt"

// BufferName is the shared-memory region name for a connection's duplex
// buffer: service_{port}_{pid}_{qid}.
func BufferName(port, pid, qid int) string {
	return fmt.Sprintf("service_%d_%d_%d", port, pid, qid)
}

// ClientLockName is the name of a connection's client-side lock:
// client_{port}_pid_{pid}_{qid}.
func ClientLockName(port, pid, qid int) string {
	return fmt.Sprintf("client_%d_pid_%d_%d", port, pid, qid)
}

// ServerLockName is the name of a connection's server-side lock:
// server_{port}_pid_{pid}_{qid}.
func ServerLockName(port, pid, qid int) string {
	return fmt.Sprintf("server_%d_pid_%d_%d", port, pid, qid)
}

// rosterName is the shared-memory region a service's live worker pids
// are registered under, one per port. Not part of the connection
// buffer/lock naming scheme (the source keeps this bookkeeping
// in-process); named separately here so it can't collide with a
// connection buffer.
func rosterName(port int) string {
	return fmt.Sprintf("roster_%d", port)
}
