package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/section-writer-back/internal/logger"
)

type stuckJobs struct {
	waitErr  error
	inFlight int64
}

func (s stuckJobs) Wait(context.Context) error { return s.waitErr }

func (s stuckJobs) InFlight() int64 { return s.inFlight }

func TestDrainJobsKeepsStoresOpenWhenJobsOutliveShutdown(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Config{Output: &buf, Format: "json", Level: "info"})

	closed := false
	var cleanup closers
	cleanup.add(func() { closed = true })

	drainJobs(context.Background(), stuckJobs{waitErr: context.DeadlineExceeded, inFlight: 3}, log, &cleanup)
	cleanup.run()

	assert.False(t, closed)
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.EqualValues(t, 3, line["abandoned_jobs"])
}

func TestDrainJobsClosesStoresAfterCleanDrain(t *testing.T) {
	closed := false
	var cleanup closers
	cleanup.add(func() { closed = true })

	drainJobs(context.Background(), stuckJobs{}, logger.Discard(), &cleanup)
	cleanup.run()

	assert.True(t, closed)
	assert.Len(t, cleanup, 1)
}
