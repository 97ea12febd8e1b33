package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oxbow-systems/fiberio/fiber"
)

func TestRunReturnsFiberMainStatus(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	e.Log.SetOutput(noopWriter{})

	status := e.Run(nil, func(argc int, argv []string) int {
		return 7
	})
	require.Equal(t, 7, status)
}

func TestYieldRoundRobin(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	e.Log.SetOutput(noopWriter{})

	var order []string
	status := e.Run(nil, func(argc int, argv []string) int {
		_, aerr := e.AddFiber(func(f *fiber.Fiber, arg any) {
			for i := 0; i < 2; i++ {
				order = append(order, "A")
				e.YieldCurrentFiber()
			}
		}, nil)
		require.NoError(t, aerr)

		_, berr := e.AddFiber(func(f *fiber.Fiber, arg any) {
			for i := 0; i < 2; i++ {
				order = append(order, "B")
				e.YieldCurrentFiber()
			}
		}, nil)
		require.NoError(t, berr)
		return 0
	})

	require.Equal(t, 0, status)
	require.Equal(t, []string{"A", "B", "A", "B"}, order)
}

func TestSleepCurrentFiberElapsesApproximateDuration(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	e.Log.SetOutput(noopWriter{})

	var elapsed time.Duration
	e.Run(nil, func(argc int, argv []string) int {
		e.AddFiber(func(f *fiber.Fiber, arg any) {
			start := time.Now()
			e.SleepCurrentFiber(50)
			elapsed = time.Since(start)
		}, nil)
		return 0
	})

	require.GreaterOrEqual(t, elapsed, 45*time.Millisecond)
}

type noopWriter struct{}

func (noopWriter) Write(b []byte) (int, error) { return len(b), nil }
