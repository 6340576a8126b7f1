package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Node        NodeConfig        `yaml:"node"`
	Replication ReplicationConfig `yaml:"replication"`
	Storage     StorageConfig     `yaml:"storage"`
	Backups     []BackupSeed      `yaml:"backups"`
	Security    SecurityConfig    `yaml:"security"`
}

type NodeConfig struct {
	ID          string `yaml:"id"`
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
}

type ReplicationConfig struct {
	NumReplicas          int `yaml:"num_replicas"`
	MaxWriteRpcsInFlight int `yaml:"max_write_rpcs_in_flight"`
}

type StorageConfig struct {
	Dir string `yaml:"dir"`
}

type BackupSeed struct {
	ServerId      uint64 `yaml:"server_id"`
	Address       string `yaml:"address"`
	FailureDomain string `yaml:"failure_domain"`
}

type SecurityConfig struct {
	Enabled bool   `yaml:"enabled"`
	CaCert  string `yaml:"ca_cert"`
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
}

func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
