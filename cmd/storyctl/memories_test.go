package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSearch_SendsFilters(t *testing.T) {
	setScope(t)

	var got SearchRequest
	newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/memories/search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(SearchResponse{
			Results: []SearchResult{
				{ID: "m1", Type: "plot", ChapterNumber: 4, Content: "林岚拔剑斩断了锁链", Similarity: 0.92},
			},
			Count: 1,
		})
	})

	prevTypes, prevMin := searchTypes, searchChapterMin
	searchTypes = []string{"plot"}
	searchChapterMin = 3
	defer func() { searchTypes, searchChapterMin = prevTypes, prevMin }()

	require.NoError(t, runSearch(nil, []string{"主角的佩剑"}))

	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "p1", got.ProjectID)
	assert.Equal(t, "主角的佩剑", got.Query)
	assert.Equal(t, []string{"plot"}, got.Types)
	require.NotNil(t, got.ChapterMin)
	assert.Equal(t, 3, *got.ChapterMin)
	assert.Nil(t, got.ChapterMax)
}

func TestRunSearch_RequiresScope(t *testing.T) {
	prevUser, prevProject := userID, projectID
	userID, projectID = "", ""
	defer func() { userID, projectID = prevUser, prevProject }()

	err := runSearch(nil, []string{"anything"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--user and --project")
}

func TestRunStats(t *testing.T) {
	setScope(t)

	newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/memories/stats", r.URL.Path)
		assert.Equal(t, "u1", r.URL.Query().Get("user_id"))
		assert.Equal(t, "p1", r.URL.Query().Get("project_id"))
		_ = json.NewEncoder(w).Encode(StatsResponse{
			TotalCount:        4,
			ByType:            map[string]int{"plot": 3, "foreshadow": 1},
			ByChapter:         map[int]int{1: 2, 2: 2},
			ForeshadowPlanted: 1,
			Collections:       []string{"u_ab12cd34_p_ef56ab78"},
		})
	})

	require.NoError(t, runStats(nil, nil))
}

func TestRunRebuild(t *testing.T) {
	setScope(t)

	var got RebuildRequest
	newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/memories/rebuild", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(RebuildResponse{Total: 12, Written: 12})
	})

	prev := rebuildBatchSize
	rebuildBatchSize = 25
	defer func() { rebuildBatchSize = prev }()

	require.NoError(t, runRebuild(nil, nil))

	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "p1", got.ProjectID)
	assert.Equal(t, 25, got.BatchSize)
}

func TestPreviewText(t *testing.T) {
	assert.Equal(t, "short", previewText("short", 10))
	assert.Equal(t, "a b", previewText("a\n\n  b", 10))

	long := strings.Repeat("长", 130)
	got := previewText(long, 120)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Len(t, []rune(got), 123)
}
