// Package cache holds cache implementations shared by the fetch layer.
package cache

import (
	"context"
	"time"
)

// NoOp never stores anything; every Get is a miss.
type NoOp struct{}

// Get always reports a miss.
func (NoOp) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

// Put discards content.
func (NoOp) Put(context.Context, string, []byte, time.Duration) error {
	return nil
}
