package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/daoch4n/claude-any-router-proxy/pkg/anthropicapi"
	"github.com/daoch4n/claude-any-router-proxy/pkg/logging"
	"github.com/daoch4n/claude-any-router-proxy/pkg/streaming"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textEvents(chunks ...string) []streaming.Event {
	events := []streaming.Event{
		{Type: "message_start", Payload: map[string]any{"type": "message_start"}},
		{Type: "content_block_start", Payload: map[string]any{
			"type": "content_block_start", "content_block": map[string]any{"type": "text"},
		}},
	}
	for _, c := range chunks {
		events = append(events, streaming.Event{Type: "content_block_delta", Payload: map[string]any{
			"type": "content_block_delta",
			"delta": map[string]any{"type": "text_delta", "text": c},
		}})
	}
	events = append(events,
		streaming.Event{Type: "content_block_stop", Payload: map[string]any{"type": "content_block_stop"}},
		streaming.Event{Type: "message_stop", Payload: map[string]any{"type": "message_stop"}},
	)
	return events
}

func TestFingerprint_DeterministicAndSensitiveToContent(t *testing.T) {
	req := anthropicapi.MessagesRequest{
		Model:     "claude-3-5-sonnet",
		MaxTokens: 100,
		Messages: []anthropicapi.Message{
			{Role: anthropicapi.RoleUser, Content: []anthropicapi.ContentBlock{{Type: anthropicapi.BlockText, Text: "hello"}}},
		},
	}
	a := Fingerprint(req)
	b := Fingerprint(req)
	assert.Equal(t, a, b)

	req.Messages[0].Content[0].Text = "goodbye"
	c := Fingerprint(req)
	assert.NotEqual(t, a, c)
}

func TestCache_MissThenHit(t *testing.T) {
	c := New(Config{ReplayDelay: 0, CleanupInterval: time.Hour}, logging.NoopLogger{})
	defer c.Close()

	fp := "fp1"
	_, hit := c.Lookup(fp)
	require.False(t, hit)

	owner := c.BeginBuild(fp)
	require.True(t, owner)

	events := textEvents("hello there, my friend", "how are you doing today", "on this fine morning")
	c.FinishBuild(fp, nil, events)

	ent, hit := c.Lookup(fp)
	require.True(t, hit)
	assert.Equal(t, events, ent.events)
}

func TestCache_CacheabilityPredicate_RejectsTooFewChunks(t *testing.T) {
	c := New(Config{}, logging.NoopLogger{})
	defer c.Close()

	fp := "fp-small"
	c.BeginBuild(fp)
	c.FinishBuild(fp, nil, textEvents("hi"))

	_, hit := c.Lookup(fp)
	assert.False(t, hit)
}

func TestCache_CacheabilityPredicate_RejectsErrorEvents(t *testing.T) {
	c := New(Config{}, logging.NoopLogger{})
	defer c.Close()

	events := textEvents("one two three four", "five six seven eight", "nine ten eleven twelve")
	events = append(events, streaming.Event{Type: "error", Payload: map[string]any{"type": "error"}})

	fp := "fp-err"
	c.BeginBuild(fp)
	c.FinishBuild(fp, nil, events)

	_, hit := c.Lookup(fp)
	assert.False(t, hit)
}

func TestCache_ToolUseIsAlwaysCacheableRegardlessOfTextVolume(t *testing.T) {
	c := New(Config{}, logging.NoopLogger{})
	defer c.Close()

	events := []streaming.Event{
		{Type: "message_start", Payload: map[string]any{"type": "message_start"}},
		{Type: "content_block_start", Payload: map[string]any{
			"type": "content_block_start", "content_block": map[string]any{"type": "tool_use"},
		}},
		{Type: "content_block_delta", Payload: map[string]any{
			"type": "content_block_delta", "delta": map[string]any{"type": "input_json_delta", "partial_json": `{}`},
		}},
		{Type: "content_block_stop", Payload: map[string]any{"type": "content_block_stop"}},
		{Type: "message_delta", Payload: map[string]any{"type": "message_delta"}},
		{Type: "message_stop", Payload: map[string]any{"type": "message_stop"}},
	}

	fp := "fp-tool"
	c.BeginBuild(fp)
	c.FinishBuild(fp, nil, events)

	_, hit := c.Lookup(fp)
	assert.True(t, hit)
}

func TestCache_Replay_AnnotatesHitAndPreservesEventType(t *testing.T) {
	c := New(Config{ReplayDelay: 0}, logging.NoopLogger{})
	defer c.Close()

	events := textEvents("alpha beta gamma", "delta epsilon zeta", "eta theta iota kappa")
	fp := "fp-replay"
	c.BeginBuild(fp)
	c.FinishBuild(fp, nil, events)

	ent, hit := c.Lookup(fp)
	require.True(t, hit)

	var captured []streaming.Event
	sink := sinkFunc(func(ev streaming.Event) error {
		captured = append(captured, ev)
		return nil
	})
	require.NoError(t, c.Replay(context.Background(), sink, ent))

	require.Len(t, captured, len(events))
	for i, ev := range captured {
		assert.Equal(t, events[i].Type, ev.Type)
		payload := ev.Payload.(map[string]any)
		assert.Equal(t, "hit", payload["cache_status"])
	}
}

func TestCache_ConcurrentBuildsForSameFingerprintJoinRatherThanDuplicate(t *testing.T) {
	c := New(Config{}, logging.NoopLogger{})
	defer c.Close()

	fp := "fp-concurrent"
	require.True(t, c.BeginBuild(fp))

	var wg sync.WaitGroup
	joined := make(chan bool, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			owner := c.BeginBuild(fp)
			if owner {
				joined <- false
				return
			}
			_, wasInflight := c.Join(context.Background(), fp)
			joined <- wasInflight
		}()
	}

	time.Sleep(10 * time.Millisecond)
	c.FinishBuild(fp, nil, textEvents("one two three", "four five six", "seven eight nine"))
	wg.Wait()
	close(joined)

	for wasInflight := range joined {
		assert.True(t, wasInflight)
	}
}

func TestCache_Invalidate_ByTag(t *testing.T) {
	c := New(Config{}, logging.NoopLogger{})
	defer c.Close()

	fp := "fp-tagged"
	c.BeginBuild(fp)
	c.FinishBuild(fp, []string{"model:sonnet"}, textEvents("one two three four", "five six seven eight", "nine ten eleven twelve"))

	removed := c.Invalidate(nil, []string{"model:sonnet"}, 0)
	assert.Equal(t, 1, removed)

	_, hit := c.Lookup(fp)
	assert.False(t, hit)
}

type sinkFunc func(streaming.Event) error

func (f sinkFunc) Write(ev streaming.Event) error { return f(ev) }
