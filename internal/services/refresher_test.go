package services

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/mochaeng/barq/internal/graph"
	"github.com/mochaeng/barq/internal/models"
	"github.com/mochaeng/barq/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	nodeA = models.NodeID("02eec7245d6b7d2ccb30380bfbe2a3648cd7a942653f5aa340edcea1f283686619")
	nodeB = models.NodeID("0324653eac434488002cc06bbfb7f10fe18991e35f9fe4302dbea6d2353dc0ab1c")
)

type mockTopology struct {
	mock.Mock
}

func (m *mockTopology) GetInfo(ctx context.Context) (models.NodeInfo, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.NodeInfo), args.Error(1)
}

func (m *mockTopology) ListNodes(ctx context.Context) ([]models.Node, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Node), args.Error(1)
}

func (m *mockTopology) ListChannels(ctx context.Context) ([]models.Channel, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Channel), args.Error(1)
}

func newRefresher(source *mockTopology) (*GraphRefresher, *graph.View) {
	view := graph.NewView()
	logger := observability.NewLogger(io.Discard, "error", "text")
	return NewGraphRefresher(source, view, testConfig(), observability.NewNoopMetrics(), logger), view
}

func topology() ([]models.Node, []models.Channel) {
	nodes := []models.Node{{ID: nodeA}, {ID: nodeB}, {ID: "not-a-key"}}
	channels := []models.Channel{
		{SCID: "1x1x0", Source: nodeA, Destination: nodeB, Capacity: 100_000, Active: true},
		{SCID: "1x1x0", Source: nodeB, Destination: nodeA, Capacity: 100_000, Active: true},
		{SCID: "2x1x0", Source: nodeA, Destination: "not-a-key", Capacity: 100_000, Active: true},
	}
	return nodes, channels
}

func TestRefreshDropsMalformedEntries(t *testing.T) {
	source := new(mockTopology)
	nodes, channels := topology()
	source.On("ListNodes", mock.Anything).Return(nodes, nil).Once()
	source.On("ListChannels", mock.Anything).Return(channels, nil).Once()
	refresher, view := newRefresher(source)

	require.NoError(t, refresher.Refresh(context.Background()))

	numNodes, numChannels := view.Size()
	assert.Equal(t, 2, numNodes)
	assert.Equal(t, 2, numChannels)

	status := refresher.Status()
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, 2, status.GraphChannels)
	assert.False(t, status.Stale)
	assert.WithinDuration(t, time.Now(), status.RefreshedAt, time.Minute)
	source.AssertExpectations(t)
}

func TestEnsureFreshPullsOnce(t *testing.T) {
	source := new(mockTopology)
	nodes, channels := topology()
	source.On("ListNodes", mock.Anything).Return(nodes, nil)
	source.On("ListChannels", mock.Anything).Return(channels, nil)
	refresher, _ := newRefresher(source)

	assert.True(t, refresher.Status().Stale)
	require.NoError(t, refresher.EnsureFresh(context.Background()))
	require.NoError(t, refresher.EnsureFresh(context.Background()))

	source.AssertNumberOfCalls(t, "ListNodes", 1)
}

func TestRefreshErrors(t *testing.T) {
	t.Run("host failure", func(t *testing.T) {
		source := new(mockTopology)
		source.On("ListNodes", mock.Anything).Return([]models.Node(nil), errors.New("connection refused"))
		refresher, view := newRefresher(source)

		err := refresher.Refresh(context.Background())
		assert.ErrorContains(t, err, "failed to list nodes")
		assert.True(t, view.Stale(time.Hour), "a failed pull leaves the view untouched")
		source.AssertNotCalled(t, "ListChannels", mock.Anything)
	})

	t.Run("cancelled", func(t *testing.T) {
		source := new(mockTopology)
		refresher, _ := newRefresher(source)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := refresher.Refresh(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		source.AssertNotCalled(t, "ListNodes", mock.Anything)
	})
}

func TestStartRefreshesPeriodically(t *testing.T) {
	source := new(mockTopology)
	nodes, channels := topology()
	source.On("ListNodes", mock.Anything).Return(nodes, nil)
	source.On("ListChannels", mock.Anything).Return(channels, nil)

	view := graph.NewView()
	cfg := testConfig()
	cfg.GraphRefreshInterval = 10 * time.Millisecond
	cfg.GraphRefreshBurst = 10
	logger := observability.NewLogger(io.Discard, "error", "text")
	refresher := NewGraphRefresher(source, view, cfg, observability.NewNoopMetrics(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	refresher.Start(ctx)

	assert.Eventually(t, func() bool {
		_, numChannels := view.Size()
		return numChannels == 2
	}, time.Second, 5*time.Millisecond)
}
