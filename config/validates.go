package config

func (c *Config) Validate() error {
	if err := c.Node.Validate(); err != nil {
		return err
	}
	if err := c.Replication.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	for i := range c.Backups {
		if err := c.Backups[i].Validate(); err != nil {
			return err
		}
	}
	if err := c.Security.Validate(); err != nil {
		return err
	}
	return nil
}

func (c *NodeConfig) Validate() error {
	if c.ID == "" {
		return ErrEmptyNodeId
	}
	return nil
}

func (c *ReplicationConfig) Validate() error {
	if c.NumReplicas < 1 {
		return ErrBadReplicaCount
	}

	if c.MaxWriteRpcsInFlight < 1 {
		return ErrBadRpcBudget
	}
	return nil
}

func (c *StorageConfig) Validate() error {
	return nil
}

func (c *BackupSeed) Validate() error {
	if c.ServerId == 0 || c.Address == "" {
		return ErrBadBackupSeed
	}
	return nil
}

func (c *SecurityConfig) Validate() error {

	if c.Enabled {
		if c.CaCert == "" {
			return ErrMissingCaCert
		}

		if c.Cert == "" {
			return ErrMissingCert
		}

		if c.Key == "" {
			return ErrMissingKey
		}
	}

	return nil
}
