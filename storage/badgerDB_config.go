package storage

import "time"

// BadgerDBConfig configures the embedded store.
type BadgerDBConfig struct {
	DataDir        string
	DisableLogging bool
	InMemory       bool
	SyncWrites     bool
	GCInterval     time.Duration // 0 disables the background value-log GC
}

// DefaultConfig returns the on-disk configuration rooted at dataDir.
func DefaultConfig(dataDir string) BadgerDBConfig {
	return BadgerDBConfig{
		DataDir:        dataDir,
		DisableLogging: true,
		InMemory:       false,
		SyncWrites:     true,
		GCInterval:     time.Hour,
	}
}

// InMemoryConfig returns a configuration for an ephemeral store.
func InMemoryConfig() BadgerDBConfig {
	return BadgerDBConfig{DisableLogging: true, InMemory: true}
}
