package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"vicinity/internal/graph/service"
	"vicinity/internal/graph/service/mocks"
	"vicinity/internal/graph/store/memory"
	"vicinity/pkg/platform/events"
)

//go:generate mockgen -source=service.go -destination=mocks/service-mocks.go -package=mocks EventPublisher

func newMockedService(t *testing.T) (*service.Service, *mocks.MockEventPublisher) {
	t.Helper()

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	pub := mocks.NewMockEventPublisher(ctrl)

	svc, err := service.New(memory.NewRegistryStore(), memory.NewSnapshotStore(), memory.NewRecordStore(), pub)
	require.NoError(t, err)
	return svc, pub
}

func TestRegisterEmitsNewUserThenNodeUpdate(t *testing.T) {
	ctx := context.Background()
	svc, pub := newMockedService(t)

	pub.EXPECT().Emit(gomock.Any(), eventOfType(events.TypeRegistryCreated)).Return(nil)
	_, _, err := svc.Bootstrap(ctx, "deployer")
	require.NoError(t, err)

	gomock.InOrder(
		pub.EXPECT().Emit(gomock.Any(), eventOfType(events.TypeNewUser)).Return(nil),
		pub.EXPECT().Emit(gomock.Any(), eventOfType(events.TypeNodeUpdate)).Return(nil),
	)

	record, err := svc.Register(ctx, "alice", nil, 100)
	require.NoError(t, err)
	require.Equal(t, "alice", record.Owner.String())
}

func TestEmitFailureDoesNotFailOperation(t *testing.T) {
	ctx := context.Background()
	svc, pub := newMockedService(t)

	sinkDown := errors.New("sink down")
	pub.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(sinkDown).AnyTimes()

	_, _, err := svc.Bootstrap(ctx, "deployer")
	require.NoError(t, err)

	record, err := svc.Register(ctx, "alice", nil, 100)
	require.NoError(t, err)

	record, err = svc.Update(ctx, "alice", record.ID, nil, 20_000)
	require.NoError(t, err)
	require.Equal(t, uint64(20_000), record.Current.Timestamp)
}

// eventOfType matches any event carrying the given type.
func eventOfType(want events.Type) gomock.Matcher {
	return gomock.Cond(func(e events.Event) bool { return e.Type == want })
}
