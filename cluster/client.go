// Package cluster provides the coordinator-facing client surface:
// backup enumeration and change notifications.
package cluster

import (
	"sort"
	"sync"

	"github.com/ramlog/ramlog/utils"
)

// ServerId identifies a server within the cluster.
type ServerId uint64

// Node describes one backup server as published by the coordinator.
type Node struct {
	ServerId      ServerId
	Locator       string
	FailureDomain string
}

// Client is the subset of the coordinator the replica manager needs.
// EnumerateBackups may block on first use while the server list is
// populated, never afterwards. Notify registers a callback fired on
// any membership change.
type Client interface {
	EnumerateBackups() []Node
	Notify(func())
}

// StaticClient is an in-memory Client for single-process deployments
// and tests. Backups can be added and removed at runtime; every
// change fires the registered callbacks.
type StaticClient struct {
	backups utils.CMap[ServerId, Node]

	mu        sync.Mutex
	listeners []func()
}

func NewStaticClient(seed ...Node) *StaticClient {
	c := &StaticClient{}
	for _, n := range seed {
		c.backups.Store(n.ServerId, n)
	}
	return c
}

func (c *StaticClient) EnumerateBackups() []Node {
	var nodes []Node
	c.backups.Range(func(_ ServerId, n Node) bool {
		nodes = append(nodes, n)
		return true
	})
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ServerId < nodes[j].ServerId })
	return nodes
}

func (c *StaticClient) Notify(f func()) {
	c.mu.Lock()
	c.listeners = append(c.listeners, f)
	c.mu.Unlock()
}

func (c *StaticClient) AddBackup(n Node) {
	c.backups.Store(n.ServerId, n)
	c.fire()
}

func (c *StaticClient) RemoveBackup(id ServerId) {
	if _, ok := c.backups.LoadAndDelete(id); ok {
		c.fire()
	}
}

func (c *StaticClient) fire() {
	c.mu.Lock()
	listeners := append([]func(){}, c.listeners...)
	c.mu.Unlock()
	for _, f := range listeners {
		f()
	}
}
