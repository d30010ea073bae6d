package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playbook-engine/internal/models"
	"playbook-engine/internal/service"
)

type closingSource struct {
	service.DataSource
	closed int
}

func (c *closingSource) Close() error { c.closed++; return nil }

func TestAddAndGetDataset(t *testing.T) {
	s := NewAppState(0)
	id := s.AddDataset(&Dataset{FileName: "a.csv", Rows: []models.Row{{"x": 1}, {"x": 2}}})
	require.NotEmpty(t, id)

	d, err := s.GetDataset(id)
	require.NoError(t, err)
	assert.False(t, d.UploadedAt.IsZero())

	st := d.Status()
	assert.Equal(t, id, st.DatasetID)
	assert.Equal(t, "a.csv", st.FileName)
	assert.Equal(t, 2, st.Rows)

	_, err = s.GetDataset("nada")
	assert.ErrorIs(t, err, ErrDatasetNotFound)
}

func TestDatasetLimitEvictsOldest(t *testing.T) {
	s := NewAppState(2)
	first := s.AddDataset(&Dataset{})
	second := s.AddDataset(&Dataset{})
	third := s.AddDataset(&Dataset{})

	assert.Equal(t, 2, s.DatasetCount())
	_, err := s.GetDataset(first)
	assert.ErrorIs(t, err, ErrDatasetNotFound)
	for _, id := range []string{second, third} {
		_, err := s.GetDataset(id)
		assert.NoError(t, err)
	}
}

func TestRemoveDataset(t *testing.T) {
	s := NewAppState(0)
	id := s.AddDataset(&Dataset{})
	s.RemoveDataset("nada")
	assert.Equal(t, 1, s.DatasetCount())
	s.RemoveDataset(id)
	assert.Zero(t, s.DatasetCount())
}

func TestSetDataSourceClosesPrevious(t *testing.T) {
	s := NewAppState(0)
	assert.Nil(t, s.DataSource())

	a, b := &closingSource{}, &closingSource{}
	require.NoError(t, s.SetDataSource(a))
	require.NoError(t, s.SetDataSource(a))
	assert.Zero(t, a.closed)

	require.NoError(t, s.SetDataSource(b))
	assert.Equal(t, 1, a.closed)
	assert.Same(t, b, s.DataSource())
}
