package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/kaigo-harvest/internal/models"
)

func TestFilter(t *testing.T) {
	records := []models.FacilityRecord{
		{Name: "さくら苑", Address: "東京都新宿区", Region: "東京都"},
		{Name: "Aoba Home", OperatorName: "社会福祉法人あおば", Region: "大阪府"},
		{Name: "ひまわり", Region: "大阪府", UserCount: "42"},
	}

	tests := []struct {
		search string
		want   int
	}{
		{"", 3},
		{"  ", 3},
		{"さくら", 1},
		{"aoba", 1},
		{"大阪府", 2},
		{"あおば", 1},
		{"42", 1},
		{"存在しない", 0},
	}
	for _, tt := range tests {
		t.Run(tt.search, func(t *testing.T) {
			assert.Len(t, Filter(records, tt.search), tt.want)
		})
	}
}

func TestPaginate(t *testing.T) {
	records := facilities("13", 7)

	tests := []struct {
		name        string
		page, limit int
		wantLen     int
		wantPage    int
		wantLimit   int
		wantPages   int
	}{
		{"first page", 1, 3, 3, 1, 3, 3},
		{"last partial page", 3, 3, 1, 3, 3, 3},
		{"past the end", 9, 3, 0, 9, 3, 3},
		{"defaults", 0, 0, 7, 1, DefaultPageLimit, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Paginate(records, tt.page, tt.limit, "job")
			assert.Len(t, p.Data, tt.wantLen)
			assert.Equal(t, tt.wantPage, p.Page)
			assert.Equal(t, tt.wantLimit, p.Limit)
			assert.Equal(t, tt.wantPages, p.TotalPages)
			assert.Equal(t, 7, p.Total)
		})
	}

	assert.Zero(t, Paginate(nil, 1, 10, "").TotalPages)
}

func TestQueryAndDeleteRecords(t *testing.T) {
	h := &fakeHarvester{run: byPrefecture(map[string][]models.FacilityRecord{"13": facilities("13", 12)})}
	m := newManager(t, h, Options{})

	queued := submit(t, m, "13")
	_, err := m.Query(DataQuery{JobID: queued.JobID})
	assert.ErrorIs(t, err, ErrJobNotCompleted)

	start(t, m)
	waitFinished(t, m, queued.JobID)

	page, err := m.Query(DataQuery{Page: 2, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, queued.JobID, page.JobID)
	assert.Len(t, page.Data, 5)
	assert.Equal(t, 3, page.TotalPages)

	page, err = m.Query(DataQuery{JobID: queued.JobID, Search: "事業所11"})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "1300000011", page.Data[0].RegistryNumber)

	_, err = m.Query(DataQuery{JobID: "missing"})
	assert.ErrorIs(t, err, ErrJobNotFound)

	require.NoError(t, m.DeleteRecords(queued.JobID))
	records, _, err := m.Records(queued.JobID)
	require.NoError(t, err)
	assert.Empty(t, records)

	current, currentID, err := m.Records("")
	require.NoError(t, err)
	assert.Empty(t, current)
	assert.Empty(t, currentID)

	st, err := m.Status(queued.JobID, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, st.Total)

	assert.ErrorIs(t, m.DeleteRecords("missing"), ErrJobNotFound)
}

func TestDeleteCurrentDataset(t *testing.T) {
	m := newManager(t, &fakeHarvester{}, Options{})
	start(t, m)

	sub := submit(t, m, "13")
	waitFinished(t, m, sub.JobID)

	require.NoError(t, m.DeleteRecords(""))
	current, _, err := m.Records("")
	require.NoError(t, err)
	assert.Empty(t, current)

	kept, _, err := m.Records(sub.JobID)
	require.NoError(t, err)
	assert.Len(t, kept, 1, "job records survive clearing the published dataset")
}
