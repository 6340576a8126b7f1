package ramlog

import (
	"log/slog"
	"testing"

	"github.com/ramlog/ramlog/backup"
	"github.com/ramlog/ramlog/cluster"
	"github.com/ramlog/ramlog/utils"
	"github.com/stretchr/testify/assert"
)

type rpcEvent struct {
	kind    string
	backup  cluster.ServerId
	segment uint64
	offset  uint32
}

// recordingClient logs the order RPCs are issued in, then delegates.
type recordingClient struct {
	inner  backup.Client
	events []rpcEvent
}

func (c *recordingClient) Open(node cluster.Node, masterId cluster.ServerId, segmentId uint64, openLen uint32, payload []byte) *backup.Call {
	c.events = append(c.events, rpcEvent{"open", node.ServerId, segmentId, openLen})
	return c.inner.Open(node, masterId, segmentId, openLen, payload)
}

func (c *recordingClient) Write(node cluster.Node, masterId cluster.ServerId, segmentId uint64, offset uint32, payload []byte) *backup.Call {
	c.events = append(c.events, rpcEvent{"write", node.ServerId, segmentId, offset})
	return c.inner.Write(node, masterId, segmentId, offset, payload)
}

func (c *recordingClient) Close(node cluster.Node, masterId cluster.ServerId, segmentId uint64) *backup.Call {
	c.events = append(c.events, rpcEvent{"close", node.ServerId, segmentId, 0})
	return c.inner.Close(node, masterId, segmentId)
}

func (c *recordingClient) Free(node cluster.Node, masterId cluster.ServerId, segmentId uint64) *backup.Call {
	c.events = append(c.events, rpcEvent{"free", node.ServerId, segmentId, 0})
	return c.inner.Free(node, masterId, segmentId)
}

type testCluster struct {
	mgr      *ReplicaManager
	stores   map[cluster.ServerId]*backup.Store
	client   *backup.StoreClient
	members  *cluster.StaticClient
	recorder *recordingClient
}

const testMasterId cluster.ServerId = 99

func newTestCluster(t *testing.T, numReplicas int, backupIds ...cluster.ServerId) *testCluster {
	t.Helper()
	log := utils.NewDefaultLogger(slog.LevelError)

	tc := &testCluster{
		stores: make(map[cluster.ServerId]*backup.Store),
		client: backup.NewStoreClient(),
	}
	var nodes []cluster.Node
	for _, id := range backupIds {
		s, err := backup.OpenStore(t.TempDir(), log)
		assert.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		tc.stores[id] = s
		tc.client.AddStore(id, s)
		nodes = append(nodes, cluster.Node{ServerId: id, FailureDomain: string(rune('a' + int(id)))})
	}
	tc.members = cluster.NewStaticClient(nodes...)
	tc.recorder = &recordingClient{inner: tc.client}

	master := &cluster.ServerIdHolder{}
	master.Set(testMasterId)

	mgr, err := Open(Options{
		Logger:      log,
		NumReplicas: numReplicas,
		Backups:     tc.recorder,
		Cluster:     tc.members,
		MasterId:    master,
	})
	assert.NoError(t, err)
	tc.mgr = mgr
	return tc
}

func (tc *testCluster) crashBackup(id cluster.ServerId) {
	tc.client.RemoveStore(id)
	tc.members.RemoveBackup(id)
}

func segmentData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i)
	}
	return data
}

func TestOpenValidatesOptions(t *testing.T) {
	_, err := Open(Options{Cluster: cluster.NewStaticClient()})
	assert.Error(t, err)
	_, err = Open(Options{Backups: backup.NewStoreClient()})
	assert.Error(t, err)
	_, err = Open(Options{
		Backups:     backup.NewStoreClient(),
		Cluster:     cluster.NewStaticClient(),
		NumReplicas: -1,
	})
	assert.Error(t, err)
}

func TestOpenThenWriteReachesEveryBackup(t *testing.T) {
	tc := newTestCluster(t, 3, 1, 2, 3)
	data := segmentData(256)

	seg := tc.mgr.OpenSegment(42, data, 128)
	seg.Write(256)
	tc.mgr.Sync()

	assert.True(t, seg.IsSynced())
	assert.True(t, tc.mgr.scheduler.IsIdle())

	for id, store := range tc.stores {
		bytes, found, err := store.ReplicaBytes(testMasterId, 42)
		assert.NoError(t, err)
		assert.True(t, found, "backup %d has no replica", id)
		assert.Equal(t, data, bytes)
	}

	perBackup := make(map[cluster.ServerId][]rpcEvent)
	for _, ev := range tc.recorder.events {
		perBackup[ev.backup] = append(perBackup[ev.backup], ev)
	}
	assert.Len(t, perBackup, 3)
	for id, evs := range perBackup {
		assert.Equal(t, "open", evs[0].kind, "backup %d", id)
		assert.Equal(t, uint32(128), evs[0].offset)
		assert.Equal(t, "write", evs[1].kind, "backup %d", id)
		assert.Equal(t, uint32(128), evs[1].offset)
	}
}

func TestSyncedSegmentSurvivesClose(t *testing.T) {
	tc := newTestCluster(t, 2, 1, 2)
	data := segmentData(64)

	seg := tc.mgr.OpenSegment(7, data, 64)
	seg.Close()
	tc.mgr.Sync()

	assert.True(t, seg.IsSynced())
	for _, store := range tc.stores {
		_, err := store.Write(testMasterId, 7, 64, []byte("x"))
		assert.Error(t, err)
	}
}

func TestOpenOrderingAcrossSegments(t *testing.T) {
	tc := newTestCluster(t, 3, 1, 2, 3)

	tc.mgr.OpenSegment(1, segmentData(32), 32)
	tc.mgr.OpenSegment(2, segmentData(32), 32)
	tc.mgr.Sync()

	lastFirst, firstSecond := -1, -1
	for i, ev := range tc.recorder.events {
		if ev.kind != "open" {
			continue
		}
		if ev.segment == 1 {
			lastFirst = i
		}
		if ev.segment == 2 && firstSecond < 0 {
			firstSecond = i
		}
	}
	assert.GreaterOrEqual(t, lastFirst, 0)
	assert.GreaterOrEqual(t, firstSecond, 0)
	assert.Less(t, lastFirst, firstSecond)
}

func TestBackupFailureTriggersReplacement(t *testing.T) {
	tc := newTestCluster(t, 3, 1, 2, 3, 4)
	data := segmentData(512)

	seg := tc.mgr.OpenSegment(5, data, 128)
	tc.mgr.Sync()

	var victim cluster.ServerId
	for _, ev := range tc.recorder.events {
		if ev.kind == "open" {
			victim = ev.backup
			break
		}
	}
	tc.crashBackup(victim)

	seg.Write(512)
	tc.mgr.Sync()
	assert.True(t, seg.IsSynced())

	holders := 0
	for id, store := range tc.stores {
		if id == victim {
			continue
		}
		bytes, found, err := store.ReplicaBytes(testMasterId, 5)
		assert.NoError(t, err)
		if found {
			holders++
			assert.Equal(t, data, bytes)
		}
	}
	assert.Equal(t, 3, holders)
}

func TestFreeDestroysHandleAndReusesSlot(t *testing.T) {
	tc := newTestCluster(t, 2, 1, 2)

	seg := tc.mgr.OpenSegment(11, segmentData(64), 64)
	tc.mgr.Sync()
	seg.Free()
	tc.mgr.Sync()

	assert.True(t, tc.mgr.scheduler.IsIdle())
	for _, store := range tc.stores {
		_, found, err := store.ReplicaBytes(testMasterId, 11)
		assert.NoError(t, err)
		assert.False(t, found)
	}

	reborn := tc.mgr.OpenSegment(12, segmentData(64), 64)
	assert.Same(t, seg, reborn)
	tc.mgr.Sync()
}

func TestFreeBeforePlacementCompletes(t *testing.T) {
	tc := newTestCluster(t, 2) // no backups at all

	seg := tc.mgr.OpenSegment(13, segmentData(16), 16)
	tc.mgr.Proceed()
	seg.Free()
	tc.mgr.Sync()
	assert.True(t, tc.mgr.scheduler.IsIdle())
	assert.Empty(t, tc.recorder.events)
}

func TestWritePanicsOnStaleOffset(t *testing.T) {
	tc := newTestCluster(t, 2, 1, 2)
	seg := tc.mgr.OpenSegment(21, segmentData(256), 128)
	seg.Write(200)
	assert.Panics(t, func() { seg.Write(200) })
	assert.Panics(t, func() { seg.Write(64) })
}

func TestClosePanicsAfterFree(t *testing.T) {
	tc := newTestCluster(t, 2, 1, 2)
	seg := tc.mgr.OpenSegment(22, segmentData(32), 32)
	seg.Free()
	assert.Panics(t, func() { seg.Close() })
}

func TestManagerCloseReleasesSegments(t *testing.T) {
	tc := newTestCluster(t, 2, 1, 2)
	data := segmentData(64)

	tc.mgr.OpenSegment(31, data, 64)
	tc.mgr.OpenSegment(32, data, 64)
	tc.mgr.Close()

	assert.Nil(t, tc.mgr.head)
	assert.Nil(t, tc.mgr.tail)
	// unfreed replicas stay behind for the coordinator to reclaim
	for _, store := range tc.stores {
		_, found, err := store.ReplicaBytes(testMasterId, 31)
		assert.NoError(t, err)
		assert.True(t, found)
	}
}

func TestWriteRpcBudgetIsBounded(t *testing.T) {
	tc := newTestCluster(t, 3, 1, 2, 3)
	for i := uint64(0); i < 8; i++ {
		tc.mgr.OpenSegment(100+i, segmentData(32), 32)
	}
	tc.mgr.Proceed()
	assert.Equal(t, tc.mgr.maxWriteRpcs, tc.mgr.writeRpcs)
	tc.mgr.Sync()
	assert.Equal(t, 0, tc.mgr.writeRpcs)
	for i := uint64(0); i < 8; i++ {
		for _, store := range tc.stores {
			_, found, err := store.ReplicaBytes(testMasterId, 100+i)
			assert.NoError(t, err)
			assert.True(t, found)
		}
	}
}
