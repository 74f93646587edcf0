package storage

import (
	"context"
	"errors"
	"fmt"
)

// Chain tries its backends in a fixed order. Reads return the first non-empty
// value; writes and removals go to every backend so a later backend can
// restore the state if an earlier one is wiped.
type Chain struct {
	backends []Backend
}

var _ Backend = (*Chain)(nil)

// NewChain builds a chain, skipping nil backends.
func NewChain(backends ...Backend) *Chain {
	c := &Chain{}
	for _, b := range backends {
		if b != nil {
			c.backends = append(c.backends, b)
		}
	}
	return c
}

func (c *Chain) Name() string { return "chain" }

// Len is the number of backends in the chain.
func (c *Chain) Len() int { return len(c.backends) }

// GetItem returns ErrNotFound when every backend is empty. A backend failure
// only surfaces when no later backend has the value.
func (c *Chain) GetItem(ctx context.Context, key string) (string, error) {
	var errs []error
	for _, b := range c.backends {
		v, err := b.GetItem(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				errs = append(errs, fmt.Errorf("%s: %w", NameOf(b), err))
			}
			continue
		}
		if v != "" {
			return v, nil
		}
	}
	if len(errs) > 0 {
		return "", errors.Join(append([]error{ErrNotFound}, errs...)...)
	}
	return "", ErrNotFound
}

// SetItem writes to every backend and reports the failures it saw.
func (c *Chain) SetItem(ctx context.Context, key, value string) error {
	var errs []error
	for _, b := range c.backends {
		if err := b.SetItem(ctx, key, value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", NameOf(b), err))
		}
	}
	return errors.Join(errs...)
}

func (c *Chain) RemoveItem(ctx context.Context, key string) error {
	var errs []error
	for _, b := range c.backends {
		if err := b.RemoveItem(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", NameOf(b), err))
		}
	}
	return errors.Join(errs...)
}

func (c *Chain) Close() error {
	var errs []error
	for _, b := range c.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", NameOf(b), err))
		}
	}
	return errors.Join(errs...)
}
