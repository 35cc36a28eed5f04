package worker

import "github.com/shmrpc/shmrpc/internal/codec"

// Method is one entry in a service's method table: a handler plus the
// codec tag that applies to both its argument decoding and its result
// encoding. Handler receives already-decoded arguments and returns an
// already-decoded result; the worker's dispatch loop owns the
// codec.Decode/Encode calls around it. For Codec == codec.Raw, args
// and the return value are both []byte with no decoding applied.
type Method struct {
	Handler func(args any) (any, error)
	Codec   codec.Kind
}

// MethodTable maps a command name to its Method.
type MethodTable map[string]Method
