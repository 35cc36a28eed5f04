// Package rpcchan implements the shared-memory RPC channel protocol:
// a per-(pid, qid) duplex buffer whose first byte is a handoff tag
// driving a four-state client/server exchange, with mid-call buffer
// growth on either side. The client state machine follows SHMClient.py;
// the server side is generalized from SHMClient.py's view of what the
// server does, since the retained SHMServer.py reference doesn't cover
// every case the client implies.
package rpcchan

import (
	"encoding/binary"
	"errors"
)

// Tag is the one-byte handoff state at offset 0 of a channel buffer.
type Tag byte

const (
	TagPending Tag = 'P'
	TagClient  Tag = 'C'
	TagServer  Tag = 'S'
	TagInvalid Tag = 'I'
)

const tagOffset = 0
const frameOffset = 1

// requestHeaderSize is cmd_len (u16) + args_len (u32).
const requestHeaderSize = 2 + 4

// responseHeaderSize is status (1 byte) + data_len (u32).
const responseHeaderSize = 1 + 4

var (
	ErrFrameTooLarge  = errors.New("rpcchan: frame exceeds buffer capacity")
	ErrShortFrame     = errors.New("rpcchan: buffer too short for frame header")
	ErrUnknownStatus  = errors.New("rpcchan: unknown response status byte")
	ErrProtocolState  = errors.New("rpcchan: unexpected handoff tag")
)

// StatusOK and StatusError are the two wire values for a response's
// status byte.
const (
	StatusOK    byte = '+'
	StatusError byte = '-'
)

// request is the decoded form of a request frame.
type request struct {
	Cmd  []byte
	Args []byte
}

// encodedSize returns the total buffer footprint a request needs,
// including the tag byte.
func (r request) encodedSize() int {
	return frameOffset + requestHeaderSize + len(r.Cmd) + len(r.Args)
}

func encodeRequest(cmd, args []byte) []byte {
	buf := make([]byte, requestHeaderSize+len(cmd)+len(args))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(cmd)))
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(args)))
	copy(buf[6:6+len(cmd)], cmd)
	copy(buf[6+len(cmd):], args)
	return buf
}

func decodeRequest(buf []byte) (request, error) {
	if len(buf) < requestHeaderSize {
		return request{}, ErrShortFrame
	}
	cmdLen := int(binary.BigEndian.Uint16(buf[0:2]))
	argsLen := int(binary.BigEndian.Uint32(buf[2:6]))
	need := requestHeaderSize + cmdLen + argsLen
	if len(buf) < need {
		return request{}, ErrShortFrame
	}
	cmd := make([]byte, cmdLen)
	copy(cmd, buf[6:6+cmdLen])
	args := make([]byte, argsLen)
	copy(args, buf[6+cmdLen:6+cmdLen+argsLen])
	return request{Cmd: cmd, Args: args}, nil
}

// response is the decoded form of a response frame.
type response struct {
	Status byte
	Data   []byte
}

func (r response) encodedSize() int {
	return frameOffset + responseHeaderSize + len(r.Data)
}

func encodeResponse(status byte, data []byte) []byte {
	buf := make([]byte, responseHeaderSize+len(data))
	buf[0] = status
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(data)))
	copy(buf[5:], data)
	return buf
}

func decodeResponse(buf []byte) (response, error) {
	if len(buf) < responseHeaderSize {
		return response{}, ErrShortFrame
	}
	status := buf[0]
	if status != StatusOK && status != StatusError {
		return response{}, ErrUnknownStatus
	}
	dataLen := int(binary.BigEndian.Uint32(buf[1:5]))
	need := responseHeaderSize + dataLen
	if len(buf) < need {
		return response{}, ErrShortFrame
	}
	data := make([]byte, dataLen)
	copy(data, buf[5:5+dataLen])
	return response{Status: status, Data: data}, nil
}
