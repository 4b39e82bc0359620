package followup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

type countingJob struct{ runs int }

func (j *countingJob) Run(context.Context) (Report, error) {
	j.runs++
	return Report{}, nil
}

func TestScheduler_DefaultsToDailyTen(t *testing.T) {
	s, err := NewScheduler("", &countingJob{}, logging.Discard())
	require.NoError(t, err)

	next, err := s.Next(time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC), next)

	next, err = s.Next(time.Date(2025, 3, 10, 10, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC), next)
}

func TestScheduler_InvalidExpression(t *testing.T) {
	_, err := NewScheduler("not a cron", &countingJob{}, logging.Discard())
	assert.Error(t, err)
}

func TestScheduler_StopsOnCancel(t *testing.T) {
	s, err := NewScheduler("0 10 * * *", &countingJob{}, logging.Discard())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
