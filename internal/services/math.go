package services

import (
	"fmt"

	"github.com/shmrpc/shmrpc/internal/codec"
	"github.com/shmrpc/shmrpc/internal/worker"
)

// init registers a small "math" section as a second, non-trivial
// demonstration service: json-codec arguments decoded into []any per
// encoding/json's generic decode rules.
func init() {
	Register("math", func() worker.MethodTable {
		return worker.MethodTable{
			"add": worker.Method{Codec: codec.JSON, Handler: mathAdd},
			"mul": worker.Method{Codec: codec.JSON, Handler: mathMul},
		}
	})
}

func mathAdd(args any) (any, error) {
	nums, err := floatArgs(args)
	if err != nil {
		return nil, err
	}
	var sum float64
	for _, n := range nums {
		sum += n
	}
	return sum, nil
}

func mathMul(args any) (any, error) {
	nums, err := floatArgs(args)
	if err != nil {
		return nil, err
	}
	product := 1.0
	for _, n := range nums {
		product *= n
	}
	return product, nil
}

func floatArgs(args any) ([]float64, error) {
	list, ok := args.([]any)
	if !ok {
		return nil, fmt.Errorf("math: expected a JSON array of numbers, got %T", args)
	}
	nums := make([]float64, len(list))
	for i, v := range list {
		n, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("math: argument %d is not a number: %v", i, v)
		}
		nums[i] = n
	}
	return nums, nil
}
