package reconciler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetlive/core/model"
)

type mockEnder struct{ mock.Mock }

func (m *mockEnder) EndDispatch(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockRefresher struct{ mock.Mock }

func (m *mockRefresher) RefreshAssignments(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestArrivalEndsThenRefreshes(t *testing.T) {
	ender := &mockEnder{}
	ref := &mockRefresher{}
	mock.InOrder(
		ender.On("EndDispatch", mock.Anything, "91").Return(nil).Once(),
		ref.On("RefreshAssignments", mock.Anything).Return(nil).Once(),
	)
	r := newTestReconciler(t, ender)
	r.SetRefresher(ref)

	out, err := r.ApplyEvent(context.Background(), event("15", 10.0, 20.0, model.StatusOnRoad, "91"))
	require.NoError(t, err)
	assert.True(t, out.Arrival.Ended())
	ender.AssertExpectations(t)
	ref.AssertExpectations(t)
}

func TestFailedEndSkipsRefresh(t *testing.T) {
	ender := &mockEnder{}
	ender.On("EndDispatch", mock.Anything, "92").Return(errors.New("503 from backend")).Once()
	ref := &mockRefresher{}
	r := newTestReconciler(t, ender)
	r.SetRefresher(ref)

	out, err := r.ApplyEvent(context.Background(), event("16", 10.0, 20.0, model.StatusOnRoad, "92"))
	require.NoError(t, err)
	require.NotNil(t, out.Arrival)
	assert.False(t, out.Arrival.Ended())
	assert.Len(t, r.Path("16"), 1)
	ender.AssertExpectations(t)
	ref.AssertNotCalled(t, "RefreshAssignments", mock.Anything)
}

func TestOnAlleyNeverCallsBackend(t *testing.T) {
	ender := &mockEnder{}
	r := newTestReconciler(t, ender)
	_, err := r.ApplyEvent(context.Background(), event("17", 10.0, 20.0, model.StatusOnAlley, "93"))
	require.NoError(t, err)
	ender.AssertNotCalled(t, "EndDispatch", mock.Anything, mock.Anything)
}
