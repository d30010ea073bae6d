package state

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"playbook-engine/internal/models"
	"playbook-engine/internal/service"
)

// ErrDatasetNotFound is returned for an unknown dataset id.
var ErrDatasetNotFound = errors.New("dataset not found")

// Dataset represents an uploaded table with its enriched schema
type Dataset struct {
	ID         string
	FileName   string
	Columns    []models.Column
	Rows       []models.Row
	Schema     models.Schema
	UploadedAt time.Time
}

// Status is the response form of a dataset.
func (d *Dataset) Status() models.DatasetStatus {
	return models.DatasetStatus{
		DatasetID: d.ID,
		FileName:  d.FileName,
		Rows:      len(d.Rows),
		Schema:    d.Schema,
	}
}

// AppState holds the server's in-memory state
type AppState struct {
	mu sync.RWMutex

	datasets map[string]*Dataset
	order    []string
	limit    int

	// DataSource is the database connection opened through the API, if any
	dataSource service.DataSource
}

// NewAppState creates an empty state keeping at most limit datasets; older ones
// are evicted first. limit <= 0 keeps everything.
func NewAppState(limit int) *AppState {
	return &AppState{datasets: map[string]*Dataset{}, limit: limit}
}

// AddDataset stores d under a fresh id and returns the id.
func (s *AppState) AddDataset(d *Dataset) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	d.ID = uuid.NewString()
	if d.UploadedAt.IsZero() {
		d.UploadedAt = time.Now()
	}
	s.datasets[d.ID] = d
	s.order = append(s.order, d.ID)
	for s.limit > 0 && len(s.order) > s.limit {
		delete(s.datasets, s.order[0])
		s.order = s.order[1:]
	}
	return d.ID
}

// GetDataset retrieves a dataset by id
func (s *AppState) GetDataset(id string) (*Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.datasets[id]
	if !ok {
		return nil, ErrDatasetNotFound
	}
	return d, nil
}

// RemoveDataset deletes a dataset; unknown ids are ignored.
func (s *AppState) RemoveDataset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.datasets[id]; !ok {
		return
	}
	delete(s.datasets, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// DatasetCount returns how many datasets are stored
func (s *AppState) DatasetCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.datasets)
}

// SetDataSource replaces the active database connection, closing the previous one.
func (s *AppState) SetDataSource(ds service.DataSource) error {
	s.mu.Lock()
	prev := s.dataSource
	s.dataSource = ds
	s.mu.Unlock()

	if prev != nil && prev != ds {
		return prev.Close()
	}
	return nil
}

// DataSource returns the active database connection, or nil.
func (s *AppState) DataSource() service.DataSource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dataSource
}
