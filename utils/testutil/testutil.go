// Package testutil provides utilities for testing.
package testutil

import (
	"fmt"
	"time"
)

// PollUntilTrue calls f until f returns true. Returns error if true is not
// received within timeout.
func PollUntilTrue(timeout time.Duration, f func() bool) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		result := make(chan bool, 1)
		go func() {
			result <- f()
		}()
		select {
		case ok := <-result:
			if ok {
				return nil
			}
			time.Sleep(10 * time.Millisecond)
		case <-timer.C:
			return fmt.Errorf("timed out after %.2f seconds", timeout.Seconds())
		}
	}
}

// Cleanup contains a list of functions that are called to clean up fixtures.
type Cleanup struct {
	funcs []func()
}

// Add adds functions to the cleanup list.
func (c *Cleanup) Add(f ...func()) {
	c.funcs = append(c.funcs, f...)
}

// Run runs all cleanup functions in reverse order of insertion.
func (c *Cleanup) Run() {
	for i := len(c.funcs) - 1; i >= 0; i-- {
		c.funcs[i]()
	}
}
