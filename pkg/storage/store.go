package storage

import (
	"github.com/quarrylabs/quarry/pkg/types"
)

// Store defines the interface for registry persistence
// This will be implemented by BoltDB-backed storage
type Store interface {
	// Repositories
	CreateRepository(repo *types.Repository) error
	GetRepository(name string) (*types.Repository, error)
	ListRepositories() ([]*types.Repository, error)
	UpdateRepository(repo *types.Repository) error
	DeleteRepository(name string) error

	// Jobs
	CreateJob(job *types.Job) error
	GetJob(id string) (*types.Job, error)
	ListJobs() ([]*types.Job, error)
	ListJobsByRepo(repo string) ([]*types.Job, error)
	UpdateJob(job *types.Job) error
	DeleteJob(id string) error

	// Utility
	Close() error
}
