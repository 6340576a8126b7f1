package backup

import (
	"log/slog"
	"testing"
	"time"

	"github.com/ramlog/ramlog/cluster"
	"github.com/ramlog/ramlog/utils"
	"github.com/stretchr/testify/assert"
)

func testSelector(nodes ...cluster.Node) (*Selector, *cluster.StaticClient, *cluster.ServerIdHolder) {
	client := cluster.NewStaticClient(nodes...)
	master := &cluster.ServerIdHolder{}
	s := NewSelector(client, master, utils.NewDefaultLogger(slog.LevelError))
	return s, client, master
}

func TestSelectorSkipsMaster(t *testing.T) {
	s, _, master := testSelector(
		cluster.Node{ServerId: 1, FailureDomain: "r1"},
		cluster.Node{ServerId: 2, FailureDomain: "r2"},
	)
	master.Set(1)

	for i := 0; i < 4; i++ {
		node, ok := s.Select(nil)
		assert.True(t, ok)
		assert.Equal(t, cluster.ServerId(2), node.ServerId)
	}
}

func TestSelectorSkipsUsedFailureDomains(t *testing.T) {
	s, _, master := testSelector(
		cluster.Node{ServerId: 2, FailureDomain: "r1"},
		cluster.Node{ServerId: 3, FailureDomain: "r1"},
		cluster.Node{ServerId: 4, FailureDomain: "r2"},
	)
	master.Set(1)

	first, ok := s.Select(nil)
	assert.True(t, ok)

	second, ok := s.Select([]cluster.Node{first})
	assert.True(t, ok)
	assert.NotEqual(t, first.FailureDomain, second.FailureDomain)

	_, ok = s.Select([]cluster.Node{first, second})
	assert.False(t, ok)
}

func TestSelectorCooldownAfterFailure(t *testing.T) {
	s, _, master := testSelector(
		cluster.Node{ServerId: 2, FailureDomain: "r1"},
		cluster.Node{ServerId: 3, FailureDomain: "r2"},
	)
	master.Set(1)
	s.cooldown = 50 * time.Millisecond

	s.NoteFailure(2)
	node, ok := s.Select(nil)
	assert.True(t, ok)
	assert.Equal(t, cluster.ServerId(3), node.ServerId)

	s.NoteFailure(3)
	_, ok = s.Select(nil)
	assert.False(t, ok)

	time.Sleep(60 * time.Millisecond)
	_, ok = s.Select(nil)
	assert.True(t, ok)
}

func TestSelectorPrefersLeastLoaded(t *testing.T) {
	s, _, master := testSelector(
		cluster.Node{ServerId: 2, FailureDomain: "r1"},
		cluster.Node{ServerId: 3, FailureDomain: "r2"},
	)
	master.Set(1)

	s.NoteAssigned(2)
	s.NoteAssigned(2)
	s.NoteAssigned(3)

	node, ok := s.Select(nil)
	assert.True(t, ok)
	assert.Equal(t, cluster.ServerId(3), node.ServerId)

	s.NoteReleased(2)
	s.NoteReleased(2)
	node, ok = s.Select(nil)
	assert.True(t, ok)
	assert.Equal(t, cluster.ServerId(2), node.ServerId)
}

func TestSelectorSeesMembershipChanges(t *testing.T) {
	s, client, master := testSelector()
	master.Set(1)

	_, ok := s.Select(nil)
	assert.False(t, ok)

	client.AddBackup(cluster.Node{ServerId: 5, FailureDomain: "r5"})
	node, ok := s.Select(nil)
	assert.True(t, ok)
	assert.Equal(t, cluster.ServerId(5), node.ServerId)

	client.RemoveBackup(5)
	_, ok = s.Select(nil)
	assert.False(t, ok)
}
