package backup

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ramlog/ramlog/cluster"
	"github.com/ramlog/ramlog/utils"
)

const (
	failedBackupCacheSize = 128
	defaultCooldown       = 10 * time.Second
)

// Selector picks backup destinations for new replicas. Constraints:
// never the master itself, never a failure domain another replica of
// the same segment already occupies. Recently failed backups sit out
// a cooldown window; the remaining candidates are ranked by current
// replica load and the least loaded one wins.
//
// The server list is fetched from the coordinator on first use and
// after membership changes; Select itself never blocks past that
// first fetch.
type Selector struct {
	client   cluster.Client
	master   *cluster.ServerIdHolder
	log      utils.Logger
	cooldown time.Duration

	failed *lru.Cache[cluster.ServerId, time.Time]
	loads  map[cluster.ServerId]int

	nodes     []cluster.Node
	populated bool
	stale     atomic.Bool
}

func NewSelector(client cluster.Client, master *cluster.ServerIdHolder, log utils.Logger) *Selector {
	failed, err := lru.New[cluster.ServerId, time.Time](failedBackupCacheSize)
	if err != nil {
		panic(err)
	}
	s := &Selector{
		client:   client,
		master:   master,
		log:      log,
		cooldown: defaultCooldown,
		failed:   failed,
		loads:    make(map[cluster.ServerId]int),
	}
	client.Notify(func() { s.stale.Store(true) })
	return s
}

func (s *Selector) refresh() {
	if s.populated && !s.stale.Swap(false) {
		return
	}
	s.nodes = s.client.EnumerateBackups()
	s.populated = true
}

func (s *Selector) onCooldown(id cluster.ServerId, now time.Time) bool {
	failedAt, ok := s.failed.Get(id)
	if !ok {
		return false
	}
	if now.Sub(failedAt) >= s.cooldown {
		s.failed.Remove(id)
		return false
	}
	return true
}

// Select picks a backup for one more replica of a segment whose other
// replicas already occupy the given nodes. ok is false when no
// eligible backup exists right now; the caller tries again later.
func (s *Selector) Select(used []cluster.Node) (node cluster.Node, ok bool) {
	s.refresh()

	masterId, haveMaster := s.master.Get()
	now := time.Now()

	var candidates []cluster.Node
	for _, n := range s.nodes {
		if haveMaster && n.ServerId == masterId {
			continue
		}
		conflict := false
		for _, u := range used {
			if u.ServerId == n.ServerId || u.FailureDomain == n.FailureDomain {
				conflict = true
				break
			}
		}
		if conflict || s.onCooldown(n.ServerId, now) {
			continue
		}
		candidates = append(candidates, n)
	}
	if len(candidates) == 0 {
		return cluster.Node{}, false
	}

	type ranked struct {
		node cluster.Node
		load int
	}
	byLoad := utils.Heap[ranked]{Less: func(a, b ranked) bool { return a.load < b.load }}
	for _, n := range candidates {
		byLoad.Push(ranked{node: n, load: s.loads[n.ServerId]})
	}
	return byLoad.Pop().node, true
}

// NoteFailure puts a backup on cooldown after an RPC failure.
func (s *Selector) NoteFailure(id cluster.ServerId) {
	s.failed.Add(id, time.Now())
}

// NoteAssigned records one more replica living on the backup.
func (s *Selector) NoteAssigned(id cluster.ServerId) {
	s.loads[id]++
}

// NoteReleased records a replica leaving the backup.
func (s *Selector) NoteReleased(id cluster.ServerId) {
	if s.loads[id] > 0 {
		s.loads[id]--
	}
}
