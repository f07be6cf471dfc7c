package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quarrylabs/quarry/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketRepositories = []byte("repositories")
	bucketJobs         = []byte("jobs")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "quarry.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketRepositories,
			bucketJobs,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Repository operations

func (s *BoltStore) CreateRepository(repo *types.Repository) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRepositories)
		if b.Get([]byte(repo.Name)) != nil {
			return fmt.Errorf("repository already exists: %s", repo.Name)
		}
		data, err := json.Marshal(repo)
		if err != nil {
			return err
		}
		return b.Put([]byte(repo.Name), data)
	})
}

func (s *BoltStore) GetRepository(name string) (*types.Repository, error) {
	var repo types.Repository
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRepositories)
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("repository not found: %s", name)
		}
		return json.Unmarshal(data, &repo)
	})
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

func (s *BoltStore) ListRepositories() ([]*types.Repository, error) {
	var repos []*types.Repository
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRepositories)
		return b.ForEach(func(k, v []byte) error {
			var repo types.Repository
			if err := json.Unmarshal(v, &repo); err != nil {
				return err
			}
			repos = append(repos, &repo)
			return nil
		})
	})
	return repos, err
}

func (s *BoltStore) UpdateRepository(repo *types.Repository) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRepositories)
		if b.Get([]byte(repo.Name)) == nil {
			return fmt.Errorf("repository not found: %s", repo.Name)
		}
		data, err := json.Marshal(repo)
		if err != nil {
			return err
		}
		return b.Put([]byte(repo.Name), data)
	})
}

func (s *BoltStore) DeleteRepository(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRepositories)
		if b.Get([]byte(name)) == nil {
			return fmt.Errorf("repository not found: %s", name)
		}
		return b.Delete([]byte(name))
	})
}

// Job operations

func (s *BoltStore) CreateJob(job *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put([]byte(job.ID), data)
	})
}

func (s *BoltStore) GetJob(id string) (*types.Job, error) {
	var job types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("job not found: %s", id)
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltStore) ListJobs() ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) ListJobsByRepo(repo string) ([]*types.Job, error) {
	jobs, err := s.ListJobs()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Job
	for _, job := range jobs {
		if job.Repo == repo {
			filtered = append(filtered, job)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateJob(job *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		if b.Get([]byte(job.ID)) == nil {
			return fmt.Errorf("job not found: %s", job.ID)
		}
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put([]byte(job.ID), data)
	})
}

func (s *BoltStore) DeleteJob(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).Delete([]byte(id))
	})
}
