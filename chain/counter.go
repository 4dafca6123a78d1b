package chain

import (
	"fmt"
	"math/big"

	"github.com/blndgs/safeauto"
	"github.com/blndgs/safeauto/contracts"
)

// Counter is a trivial contract used to exercise the permission module: any
// caller may increase the count.
type Counter struct {
	count *big.Int
}

// NewCounter returns a counter starting at zero.
func NewCounter() *Counter {
	return &Counter{count: new(big.Int)}
}

// Count returns the current count.
func (c *Counter) Count() *big.Int {
	return new(big.Int).Set(c.count)
}

// Run implements Contract.
func (c *Counter) Run(env *Env, call *Call) ([]byte, error) {
	method, err := contracts.Method(contracts.Counter, call.Input)
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "increaseCount":
		if err := env.RequireMutable(); err != nil {
			return nil, err
		}
		var amount *big.Int
		if err := contracts.UnpackInputs(method, call.Input, &amount); err != nil {
			return nil, err
		}
		prev := c.count
		c.count = new(big.Int).Add(prev, amount)
		env.Journal().Record(func() { c.count = prev })
		return nil, nil

	case "count":
		return contracts.Return(method, c.Count())
	}

	return nil, fmt.Errorf("%w: %s", safeauto.ErrUnknownSelector, method.Name)
}
