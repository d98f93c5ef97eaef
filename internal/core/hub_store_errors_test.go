package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/vovakirdan/relaychat/internal/errs"
	"github.com/vovakirdan/relaychat/internal/store"
	"github.com/vovakirdan/relaychat/internal/store/mocks"
)

func TestHubStoreFailureOnSendIsReportedAndIsolated(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockStore := mocks.NewMockMessageStore(ctrl)
	hub := NewHub(mockStore, nil, nil)

	alice := NewClient("a", 0)
	bob := NewClient("b", 0)
	sa := hub.RegisterClient(alice)
	sb := hub.RegisterClient(bob)
	connect(t, hub, sa, "u1", "Alice")
	connect(t, hub, sb, "u2", "Bob")
	drain(alice.Events)
	drain(bob.Events)

	// Given the durable write fails
	mockStore.EXPECT().
		CreateMessage(gomock.Any(), "u1", "u2", "hi").
		Return(nil, errs.Store("insert message", errors.New("disk I/O error"))).
		Times(1)

	// When alice sends
	err := hub.Handle(context.Background(), sa, sendCmd("u2", "hi"))

	// Then the failure is reported to alice only and nothing is delivered
	req.Equal(errs.CodeStore, errs.Code(err))
	ev := mustEvent(t, alice.Events, EventError)
	req.Equal(errs.CodeStore, ev.Error.Code)
	req.NotContains(ev.Error.Message, "disk")
	req.Empty(drain(bob.Events))
	req.Equal(SessionIdentified, sa.State())
	req.Equal(2, hub.Presence().Len())
}

func TestHubMarkReadNotifiesSenderFromStoreResult(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockStore := mocks.NewMockMessageStore(ctrl)
	hub := NewHub(mockStore, nil, nil)

	alice := NewClient("a", 0)
	bob := NewClient("b", 0)
	sa := hub.RegisterClient(alice)
	sb := hub.RegisterClient(bob)
	connect(t, hub, sa, "u1", "Alice")
	connect(t, hub, sb, "u2", "Bob")
	drain(alice.Events)

	readAt := time.Now()
	// Given the store resolves message 5 as sent by u1
	mockStore.EXPECT().
		MarkRead(gomock.Any(), int64(5)).
		Return(&store.Message{ID: 5, Sender: "u1", Receiver: "u2", Content: "x", IsRead: true, ReadAt: &readAt}, nil).
		Times(1)

	// When bob acknowledges it
	req.NoError(hub.Handle(context.Background(), sb, markReadCmd(5)))

	// Then alice receives the receipt
	ev := mustEvent(t, alice.Events, EventMessageRead)
	req.Equal(int64(5), ev.MessageID)
}

func TestHubStoreFailureOnMarkRead(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockStore := mocks.NewMockMessageStore(ctrl)
	hub := NewHub(mockStore, nil, nil)

	bob := NewClient("b", 0)
	sb := hub.RegisterClient(bob)
	connect(t, hub, sb, "u2", "Bob")
	drain(bob.Events)

	mockStore.EXPECT().
		MarkRead(gomock.Any(), int64(9)).
		Return(nil, errs.Store("mark read", context.DeadlineExceeded)).
		Times(1)

	err := hub.Handle(context.Background(), sb, markReadCmd(9))
	req.ErrorIs(err, context.DeadlineExceeded)
	ev := mustEvent(t, bob.Events, EventError)
	req.Equal(errs.CodeStore, ev.Error.Code)
	req.Equal(SessionIdentified, sb.State())
}
