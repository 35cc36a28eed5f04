package services

import (
	"github.com/shmrpc/shmrpc/internal/codec"
	"github.com/shmrpc/shmrpc/internal/worker"
)

// init registers the "echo" section: a raw-codec echo(b) and a
// json-codec json_echo(v), both returning their argument unchanged.
func init() {
	Register("echo", func() worker.MethodTable {
		return worker.MethodTable{
			"echo": worker.Method{
				Codec: codec.Raw,
				Handler: func(args any) (any, error) {
					return args.([]byte), nil
				},
			},
			"json_echo": worker.Method{
				Codec: codec.JSON,
				Handler: func(args any) (any, error) {
					return args, nil
				},
			},
		}
	})
}
