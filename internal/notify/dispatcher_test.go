package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	redis.Cmdable
	published map[string][]string
	zsets     map[string][]redis.Z
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.published[channel] = append(f.published[channel], string(message.([]byte)))
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) ZAdd(_ context.Context, key string, members ...redis.Z) *redis.IntCmd {
	f.zsets[key] = append(f.zsets[key], members...)
	return redis.NewIntResult(int64(len(members)), nil)
}

func TestRedisDispatcher(t *testing.T) {
	f := &fakeRedis{published: map[string][]string{}, zsets: map[string][]redis.Z{}}
	d := NewRedisDispatcher(f)
	ctx := context.Background()

	require.NoError(t, d.Immediate(ctx, Notification{AgentID: "E1", LeadID: 3, Kind: KindLeadRecycled, Message: "m"}))
	require.Len(t, f.published[DefaultChannel], 1)
	var got Notification
	require.NoError(t, json.Unmarshal([]byte(f.published[DefaultChannel][0]), &got))
	assert.Equal(t, int64(3), got.LeadID)

	due := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, d.Schedule(ctx, Notification{AgentID: "E1", LeadID: 3, Kind: KindDeadlineReminder}, due))
	require.Len(t, f.zsets[DefaultScheduled], 1)
	assert.Equal(t, float64(due.Unix()), f.zsets[DefaultScheduled][0].Score)
}
