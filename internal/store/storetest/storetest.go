// Package storetest holds behaviour checks every store.MessageStore backend must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/relaychat/internal/errs"
	"github.com/vovakirdan/relaychat/internal/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.MessageStore

// Run executes the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.MessageStore)
	}{
		{"CreateAssignsIdentifierAndUnreadState", testCreate},
		{"CreateRejectsEmptyFields", testCreateValidation},
		{"IdentifiersAreMonotonic", testMonotonicIDs},
		{"MarkReadFirstReadWins", testMarkReadIdempotent},
		{"MarkReadUnknownID", testMarkReadNotFound},
		{"GetMessage", testGetMessage},
		{"ListConversationBothDirections", testListConversation},
		{"ListConversationPagination", testListConversationPagination},
		{"ListUnread", testListUnread},
		{"ConcurrentMarkRead", testConcurrentMarkRead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func testCreate(t *testing.T, s store.MessageStore) {
	req := require.New(t)
	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	msg, err := s.CreateMessage(ctx, "u1", "u2", "hi")
	req.NoError(err)
	req.NotZero(msg.ID)
	req.Equal("u1", msg.Sender)
	req.Equal("u2", msg.Receiver)
	req.Equal("hi", msg.Content)
	req.False(msg.IsRead)
	req.Nil(msg.ReadAt)
	req.True(msg.CreatedAt.After(before))

	stored, err := s.GetMessage(ctx, msg.ID)
	req.NoError(err)
	req.Equal(msg.Content, stored.Content)
	req.False(stored.IsRead)
	req.True(msg.CreatedAt.Equal(stored.CreatedAt))
}

func testCreateValidation(t *testing.T, s store.MessageStore) {
	req := require.New(t)
	ctx := context.Background()

	cases := []struct {
		sender, receiver, content string
		field                     string
	}{
		{"", "u2", "hi", "sender"},
		{"u1", "", "hi", "receiver"},
		{"u1", "u2", "", "content"},
	}
	for _, c := range cases {
		msg, err := s.CreateMessage(ctx, c.sender, c.receiver, c.content)
		req.Nil(msg)
		var ve *errs.ValidationError
		req.ErrorAs(err, &ve)
		req.Equal(c.field, ve.Field)
	}

	// Nothing was written.
	msgs, err := s.ListConversation(ctx, "u1", "u2", 10, nil)
	req.NoError(err)
	req.Empty(msgs)
}

func testMonotonicIDs(t *testing.T, s store.MessageStore) {
	req := require.New(t)
	ctx := context.Background()

	var last int64
	for i := range 5 {
		msg, err := s.CreateMessage(ctx, "u1", "u2", fmt.Sprintf("m%d", i))
		req.NoError(err)
		req.Greater(msg.ID, last)
		last = msg.ID
	}
}

func testMarkReadIdempotent(t *testing.T, s store.MessageStore) {
	req := require.New(t)
	ctx := context.Background()

	msg, err := s.CreateMessage(ctx, "u1", "u2", "read me")
	req.NoError(err)

	first, err := s.MarkRead(ctx, msg.ID)
	req.NoError(err)
	req.True(first.IsRead)
	req.NotNil(first.ReadAt)
	req.Equal("u1", first.Sender)

	time.Sleep(5 * time.Millisecond)

	second, err := s.MarkRead(ctx, msg.ID)
	req.NoError(err)
	req.True(second.IsRead)
	req.NotNil(second.ReadAt)
	req.True(first.ReadAt.Equal(*second.ReadAt), "read timestamp must not advance")

	stored, err := s.GetMessage(ctx, msg.ID)
	req.NoError(err)
	req.True(stored.IsRead)
	req.True(first.ReadAt.Equal(*stored.ReadAt))
}

func testMarkReadNotFound(t *testing.T, s store.MessageStore) {
	req := require.New(t)

	msg, err := s.MarkRead(context.Background(), 424242)
	req.Nil(msg)
	var nf *errs.NotFoundError
	req.ErrorAs(err, &nf)
	req.Equal(int64(424242), nf.MessageID)
}

func testGetMessage(t *testing.T, s store.MessageStore) {
	req := require.New(t)

	_, err := s.GetMessage(context.Background(), 99)
	var nf *errs.NotFoundError
	req.ErrorAs(err, &nf)
}

func testListConversation(t *testing.T, s store.MessageStore) {
	req := require.New(t)
	ctx := context.Background()

	a, err := s.CreateMessage(ctx, "alice", "bob", "one")
	req.NoError(err)
	_, err = s.CreateMessage(ctx, "alice", "carol", "unrelated")
	req.NoError(err)
	b, err := s.CreateMessage(ctx, "bob", "alice", "two")
	req.NoError(err)

	msgs, err := s.ListConversation(ctx, "bob", "alice", 10, nil)
	req.NoError(err)
	req.Len(msgs, 2)
	req.Equal(b.ID, msgs[0].ID)
	req.Equal(a.ID, msgs[1].ID)
}

func testListConversationPagination(t *testing.T, s store.MessageStore) {
	req := require.New(t)
	ctx := context.Background()

	ids := make([]int64, 0, 5)
	for i := range 5 {
		msg, err := s.CreateMessage(ctx, "alice", "bob", fmt.Sprintf("m%d", i))
		req.NoError(err)
		ids = append(ids, msg.ID)
	}

	page, err := s.ListConversation(ctx, "alice", "bob", 2, nil)
	req.NoError(err)
	req.Len(page, 2)
	req.Equal(ids[4], page[0].ID)
	req.Equal(ids[3], page[1].ID)

	next, err := s.ListConversation(ctx, "alice", "bob", 2, &page[1].ID)
	req.NoError(err)
	req.Len(next, 2)
	req.Equal(ids[2], next[0].ID)
	req.Equal(ids[1], next[1].ID)

	oldest := ids[0]
	rest, err := s.ListConversation(ctx, "alice", "bob", 10, &oldest)
	req.NoError(err)
	req.Empty(rest)
}

func testListUnread(t *testing.T, s store.MessageStore) {
	req := require.New(t)
	ctx := context.Background()

	first, err := s.CreateMessage(ctx, "alice", "bob", "one")
	req.NoError(err)
	second, err := s.CreateMessage(ctx, "carol", "bob", "two")
	req.NoError(err)
	_, err = s.CreateMessage(ctx, "bob", "alice", "to alice")
	req.NoError(err)

	_, err = s.MarkRead(ctx, first.ID)
	req.NoError(err)

	unread, err := s.ListUnread(ctx, "bob", 10)
	req.NoError(err)
	req.Len(unread, 1)
	req.Equal(second.ID, unread[0].ID)
	req.False(unread[0].IsRead)
}

func testConcurrentMarkRead(t *testing.T, s store.MessageStore) {
	req := require.New(t)
	ctx := context.Background()

	msg, err := s.CreateMessage(ctx, "alice", "bob", "race")
	req.NoError(err)

	const workers = 8
	results := make([]*store.Message, workers)
	failures := make([]error, workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], failures[i] = s.MarkRead(ctx, msg.ID)
		}(i)
	}
	wg.Wait()

	stored, err := s.GetMessage(ctx, msg.ID)
	req.NoError(err)
	req.True(stored.IsRead)
	req.NotNil(stored.ReadAt)

	for i := range workers {
		req.NoError(failures[i])
		req.True(results[i].IsRead)
		req.True(stored.ReadAt.Equal(*results[i].ReadAt))
	}
}
