package syncx

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuardGetSet(t *testing.T) {
	g := NewGuard(42)
	assert.Equal(t, 42, g.Get())

	g.Set(100)
	assert.Equal(t, 100, g.Get())
}

func TestGuardSwap(t *testing.T) {
	g := NewGuard("hello")

	assert.Equal(t, "hello", g.Swap("world"))
	assert.Equal(t, "world", g.Get())
}

func TestGuardRead(t *testing.T) {
	g := NewGuard([]int{1, 2, 3})

	n := Read(g, func(v []int) int { return len(v) })
	assert.Equal(t, 3, n)
}

func TestGuardWrite(t *testing.T) {
	type counter struct{ value int }
	g := NewGuard(counter{})

	g.Write(func(c *counter) { c.value = 42 })
	assert.Equal(t, 42, g.Get().value)
}

func TestGuardUpdate(t *testing.T) {
	g := NewGuard(10)

	old := Update(g, func(v *int) int {
		prev := *v
		*v = 20
		return prev
	})
	assert.Equal(t, 10, old)
	assert.Equal(t, 20, g.Get())
}

func TestGuardConcurrentSafety(t *testing.T) {
	g := NewGuard(0)
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Write(func(v *int) { *v++ })
		}()
	}

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Get()
		}()
	}

	wg.Wait()
	assert.Equal(t, 100, g.Get())
}

func TestGuardWithStruct(t *testing.T) {
	type state struct {
		failures  int
		successes int
	}

	g := NewGuard(state{})
	g.Write(func(s *state) {
		s.failures = 5
		s.successes = 10
	})

	got := g.Get()
	assert.Equal(t, 5, got.failures)
	assert.Equal(t, 10, got.successes)
}
