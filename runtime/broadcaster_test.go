package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"market-chat/mocks"
)

func TestBroadcaster_Delivers_To_Every_Sink_Of_Every_Target(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	broadcaster := NewBroadcaster(slog.New(slog.DiscardHandler), registry)

	// Given user 1 has two devices and user 2 has one
	device1 := newFakeSink()
	device2 := newFakeSink()
	device3 := newFakeSink()
	registry.Register(1, device1)
	registry.Register(1, device2)
	registry.Register(2, device3)

	// When broadcasting to both users
	broadcaster.Broadcast(context.Background(), "hello", []int64{1, 2})

	// Then every sink received exactly one copy
	req.Equal([]any{"hello"}, device1.sent)
	req.Equal([]any{"hello"}, device2.sent)
	req.Equal([]any{"hello"}, device3.sent)
}

func TestBroadcaster_Skips_Users_With_No_Connection(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	broadcaster := NewBroadcaster(slog.New(slog.DiscardHandler), registry)

	connected := newFakeSink()
	registry.Register(1, connected)

	// When broadcasting to a connected and an offline user
	broadcaster.Broadcast(context.Background(), "ping", []int64{1, 99})

	// Then the offline user is silently skipped, no error, no queuing
	req.Equal([]any{"ping"}, connected.sent)
}

func TestBroadcaster_A_Failing_Sink_Does_Not_Block_Others(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := NewRegistry()
	broadcaster := NewBroadcaster(slog.New(slog.DiscardHandler), registry)

	broken := mocks.NewMockSink(ctrl)
	broken.EXPECT().ID().Return(uuid.New()).AnyTimes()
	broken.EXPECT().Send(gomock.Any(), "msg").Return(fmt.Errorf("socket gone"))
	healthy := newFakeSink()

	registry.Register(1, broken)
	registry.Register(2, healthy)

	broadcaster.Broadcast(context.Background(), "msg", []int64{1, 2})

	req.Equal([]any{"msg"}, healthy.sent)
}
