package assignments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetlive/core/model"
)

type stubLister struct {
	items []model.Assignment
	err   error
}

func (s *stubLister) ListAssignments(context.Context) ([]model.Assignment, error) {
	return s.items, s.err
}

func TestCacheRefresh(t *testing.T) {
	l := &stubLister{items: []model.Assignment{{ID: "1", VehicleID: "7", UserProfiles: []model.UserProfile{{Position: "driver", Name: "Ana"}}}}}
	c := NewCache(l)
	fixed := time.Unix(100, 0)
	c.now = func() time.Time { return fixed }

	require.NoError(t, c.RefreshAssignments(context.Background()))
	items, at := c.List()
	require.Len(t, items, 1)
	assert.Equal(t, fixed, at)

	items[0].UserProfiles[0].Name = "changed"
	a, ok := c.ForVehicle("7")
	require.True(t, ok)
	assert.Equal(t, "Ana", a.UserProfiles[0].Name)
	_, ok = c.ForVehicle("8")
	assert.False(t, ok)
}

func TestCacheKeepsPreviousOnError(t *testing.T) {
	l := &stubLister{items: []model.Assignment{{ID: "1", VehicleID: "7"}}}
	c := NewCache(l)
	require.NoError(t, c.RefreshAssignments(context.Background()))

	l.err = errors.New("down")
	l.items = nil
	err := c.RefreshAssignments(context.Background())
	assert.ErrorIs(t, err, l.err)
	items, _ := c.List()
	assert.Len(t, items, 1)
}
