package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/startup-chat/client/internal/model/chat"
	"github.com/zhouzirui/startup-chat/client/internal/service/persistence"
	"github.com/zhouzirui/startup-chat/client/internal/storage"
)

func sampleSessions() []chat.Session {
	base := time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)
	return []chat.Session{
		{
			ID:                 "s2",
			Title:              "स्टार्टअप कसे सुरू करावे?",
			LastMessagePreview: "प्रथम कल्पना तपासा...",
			UpdatedAt:          base.Add(time.Minute),
			Messages: []chat.Message{
				{ID: "1-a", Text: "स्टार्टअप कसे सुरू करावे?", Direction: chat.Outgoing, CreatedAt: base},
				{ID: "2-b", Text: "प्रथम कल्पना तपासा", Direction: chat.Incoming, CreatedAt: base.Add(time.Second)},
			},
		},
		{
			ID:                 "s1",
			Title:              "नमस्कार",
			LastMessagePreview: "स्वागत आहे",
			UpdatedAt:          base,
			Messages: []chat.Message{
				{ID: "3-c", Text: "नमस्कार", Direction: chat.Outgoing, CreatedAt: base},
				{ID: "4-d", Text: "स्वागत आहे", Direction: chat.Incoming, CreatedAt: base},
			},
		},
	}
}

func TestLoadSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := persistence.New(storage.NewMemory(), nil)

	want := sampleSessions()
	require.NoError(t, store.Save(ctx, want))

	got := store.Load(ctx)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, store.Save(ctx, got))
	again := store.Load(ctx)
	if diff := cmp.Diff(want, again); diff != "" {
		t.Fatalf("second round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMissingRecord(t *testing.T) {
	store := persistence.New(storage.NewMemory(), nil)

	got := store.Load(context.Background())
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestLoadCorruptedRecordIsDiscarded(t *testing.T) {
	cases := map[string]string{
		"not json":         "{{not json",
		"object not array": `{"id":"s1","messages":[]}`,
		"missing messages": `[{"id":"s1","title":"t"}]`,
		"null messages":    `[{"id":"s1","title":"t","messages":null}]`,
		"messages string":  `[{"id":"s1","title":"t","messages":"oops"}]`,
		"missing id":       `[{"title":"t","messages":[]}]`,
		"session scalar":   `[42]`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			kv := storage.NewMemory()
			require.NoError(t, kv.Set(ctx, persistence.SessionsKey, raw))
			store := persistence.New(kv, nil)

			var got []chat.Session
			require.NotPanics(t, func() { got = store.Load(ctx) })
			assert.Empty(t, got)

			_, ok, err := kv.Get(ctx, persistence.SessionsKey)
			require.NoError(t, err)
			assert.False(t, ok, "corrupted record should be removed")
		})
	}
}

func TestLoadRecoversBadTimestampsPerField(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	raw := `[{"id":"s1","title":"t","lastMessagePreview":"p","updatedAt":"yesterday-ish",
		"messages":[
			{"id":"m1","text":"hi","direction":"outgoing","createdAt":"not a time"},
			{"id":"m2","text":"hello","direction":"incoming","createdAt":"2025-01-02T03:04:05Z"},
			"garbage",
			{"id":"m3","text":"later","direction":"incoming","createdAt":1735787045000}
		]}]`
	require.NoError(t, kv.Set(ctx, persistence.SessionsKey, raw))

	got := persistence.New(kv, nil).Load(ctx)
	require.Len(t, got, 1)

	session := got[0]
	assert.True(t, session.UpdatedAt.IsZero())
	require.Len(t, session.Messages, 3)
	assert.True(t, session.Messages[0].CreatedAt.IsZero())
	assert.True(t, session.Messages[1].CreatedAt.Equal(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.True(t, session.Messages[2].CreatedAt.Equal(time.UnixMilli(1735787045000)))
}

func TestLoadLegacyBrowserRecord(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	raw := `[{"id":"s1","title":"नमस्कार","lastMessage":"स्वागत आहे","timestamp":"2025-01-02T03:04:05.000Z",
		"messages":[
			{"id":"m1","text":"नमस्कार","isOutgoing":true,"timestamp":"2025-01-02T03:04:04.000Z"},
			{"id":"m2","text":"स्वागत आहे","isOutgoing":false,"timestamp":"2025-01-02T03:04:05.000Z"}
		]}]`
	require.NoError(t, kv.Set(ctx, persistence.SessionsKey, raw))

	got := persistence.New(kv, nil).Load(ctx)
	require.Len(t, got, 1)
	assert.Equal(t, "स्वागत आहे", got[0].LastMessagePreview)
	assert.False(t, got[0].UpdatedAt.IsZero())
	require.Len(t, got[0].Messages, 2)
	assert.Equal(t, chat.Outgoing, got[0].Messages[0].Direction)
	assert.Equal(t, chat.Incoming, got[0].Messages[1].Direction)
}

func TestCurrentPointer(t *testing.T) {
	ctx := context.Background()
	store := persistence.New(storage.NewMemory(), nil)

	assert.Equal(t, "", store.LoadCurrent(ctx))

	require.NoError(t, store.SaveCurrent(ctx, "s1"))
	assert.Equal(t, "s1", store.LoadCurrent(ctx))

	require.NoError(t, store.ClearCurrent(ctx))
	assert.Equal(t, "", store.LoadCurrent(ctx))
}

func TestSaveReportsBackendFailure(t *testing.T) {
	kv := storage.NewMemory()
	require.NoError(t, kv.Close())

	err := persistence.New(kv, nil).Save(context.Background(), sampleSessions())
	assert.ErrorIs(t, err, storage.ErrClosed)
}
