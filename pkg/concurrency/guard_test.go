package concurrency

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConcurrencyGuard_RejectsWhileBusy(t *testing.T) {
	g := NewConcurrencyGuard()
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- g.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	assert.True(t, g.Busy())
	assert.ErrorIs(t, g.Execute(func() error { return nil }), ErrBusy)

	close(release)
	assert.NoError(t, <-done)
	assert.False(t, g.Busy())
}

func TestConcurrencyGuard_ReturnsTaskError(t *testing.T) {
	g := NewConcurrencyGuard()
	taskErr := errors.New("link down")

	assert.ErrorIs(t, g.Execute(func() error { return taskErr }), taskErr)
	assert.False(t, g.Busy(), "a failed task releases the guard")
	assert.NoError(t, g.Execute(func() error { return nil }))
}
