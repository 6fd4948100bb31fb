// Package workpool bounds how many calls run concurrently against a shared
// collaborator such as the database.
package workpool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

const DefaultSize = 16

type Pool struct {
	sem *semaphore.Weighted
}

func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Do runs fn once a slot is free. It returns ctx.Err() without calling fn if
// ctx ends while waiting.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	return fn(ctx)
}
