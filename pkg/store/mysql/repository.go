package mysql

import "context"

// Repository aggregates all MySQL repositories
type Repository struct {
	ds *Datastore

	Queue  *QueueRepository
	Models *ModelRepository
}

// NewRepository creates a new MySQL repository with all sub-repositories
func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	ds, err := NewDatastore(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return NewRepositoryWithDatastore(ds), nil
}

// NewRepositoryWithDatastore builds the repositories over an open datastore
func NewRepositoryWithDatastore(ds *Datastore) *Repository {
	return &Repository{
		ds:     ds,
		Queue:  NewQueueRepository(ds),
		Models: NewModelRepository(ds),
	}
}

// GetDatastore returns the underlying datastore for transaction support
func (r *Repository) GetDatastore() *Datastore {
	return r.ds
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.ds.Close()
}
