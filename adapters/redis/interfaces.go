package redis

import "context"

// IAutoRenewMutex is a distributed mutex whose holder keeps extending
// the lease until Unlock. The context returned by Lock is cancelled
// when renewal stops, so critical sections can watch it.
type IAutoRenewMutex interface {
	Lock(ctx context.Context) (context.Context, error)
	Unlock() (bool, error)
	Valid() bool
}
