package app_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelarena/llm-evaluator/internal/app"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestDBCheck(t *testing.T) {
	assert.NoError(t, app.DBCheck(fakePinger{})(context.Background()))
	assert.Error(t, app.DBCheck(fakePinger{err: fmt.Errorf("down")})(context.Background()))
	assert.Error(t, app.DBCheck(nil)(context.Background()))
}

func TestWaitForRecoversFromTransientFailures(t *testing.T) {
	attempts := 0
	probe := func(context.Context) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("not yet")
		}
		return nil
	}

	err := app.WaitFor(context.Background(), "thing", 30*time.Second, probe)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWaitForGivesUpAfterMaxWait(t *testing.T) {
	probe := func(context.Context) error { return fmt.Errorf("never ready") }

	start := time.Now()
	err := app.WaitFor(context.Background(), "thing", 1*time.Second, probe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thing")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestWaitForStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := app.WaitFor(ctx, "thing", time.Minute, func(context.Context) error {
		return fmt.Errorf("not ready")
	})
	require.Error(t, err)
}
