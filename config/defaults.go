package config

import "github.com/google/uuid"

var defaultNode = NodeConfig{
	ID:          "master",
	BindAddress: "127.0.0.1",
	Port:        8090,
}

var defaultReplication = ReplicationConfig{
	NumReplicas:          3,
	MaxWriteRpcsInFlight: 4,
}

var defaultStorage = StorageConfig{
	Dir: "ramlog",
}

var defaultSecurity = SecurityConfig{
	Enabled: false,
}

func Default() *Config {
	return &Config{
		Node:        defaultNode,
		Replication: defaultReplication,
		Storage:     defaultStorage,
		Backups:     []BackupSeed{},
		Security:    defaultSecurity,
	}
}

func (c *NodeConfig) PopulateDefaults() {
	if c.BindAddress == "" {
		c.BindAddress = defaultNode.BindAddress
	}

	if c.Port == 0 {
		c.Port = defaultNode.Port
	}

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
}

func (c *ReplicationConfig) PopulateDefaults() {
	if c.NumReplicas == 0 {
		c.NumReplicas = defaultReplication.NumReplicas
	}

	if c.MaxWriteRpcsInFlight == 0 {
		c.MaxWriteRpcsInFlight = defaultReplication.MaxWriteRpcsInFlight
	}
}

func (c *StorageConfig) PopulateDefaults() {
	if c.Dir == "" {
		c.Dir = defaultStorage.Dir
	}
}

func (c *SecurityConfig) PopulateDefaults() {
	if !c.Enabled {
		return
	}
}

func (c *Config) PopulateDefaults() {
	c.Node.PopulateDefaults()
	c.Replication.PopulateDefaults()
	c.Storage.PopulateDefaults()
	c.Security.PopulateDefaults()
}
