package domain

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdempotencyStatusValid(t *testing.T) {
	assert.True(t, IdempotencyStatusProcessing.Valid())
	assert.True(t, IdempotencyStatusDone.Valid())
	assert.True(t, IdempotencyStatusFailed.Valid())
	assert.False(t, IdempotencyStatus("broken").Valid())
}

func TestIdempotencyRecord_Replay(t *testing.T) {
	tests := []struct {
		name       string
		record     IdempotencyRecord
		replayable bool
		status     int
	}{
		{name: "processing", record: IdempotencyRecord{Status: IdempotencyStatusProcessing}, status: http.StatusOK},
		{name: "done", record: IdempotencyRecord{Status: IdempotencyStatusDone, HTTPStatus: http.StatusCreated}, replayable: true, status: http.StatusCreated},
		{name: "failed", record: IdempotencyRecord{Status: IdempotencyStatusFailed, HTTPStatus: http.StatusConflict}, replayable: true, status: http.StatusConflict},
		{name: "done without status", record: IdempotencyRecord{Status: IdempotencyStatusDone}, replayable: true, status: http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.replayable, tc.record.Replayable())
			assert.Equal(t, tc.status, tc.record.ReplayStatus())
		})
	}
}

func TestIdempotencyRecord_Expired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, IdempotencyRecord{}.Expired(now))
	assert.False(t, IdempotencyRecord{TTLAt: now.Add(time.Minute)}.Expired(now))
	assert.True(t, IdempotencyRecord{TTLAt: now}.Expired(now))
	assert.True(t, IdempotencyRecord{TTLAt: now.Add(-time.Minute)}.Expired(now))
}
