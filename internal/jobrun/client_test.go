package jobrun

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bookprices/crawler/internal/bookprice"
)

func TestNextPendingRun(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v1/job-runs", r.URL.Path)
		require.Equal(t, "Pending", r.URL.Query().Get("status"))
		require.Equal(t, "1", r.URL.Query().Get("limit"))
		require.Equal(t, "secret", r.Header.Get(APIKeyHeader))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]bookprice.JobRun{
			{ID: "r1", JobName: "update_prices", Status: bookprice.RunPending, Version: 1},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "secret"})
	run, err := c.NextPendingRun(context.Background())
	require.NoError(t, err)
	require.NotNil(t, run)
	require.Equal(t, "r1", run.ID)
	require.Equal(t, 1, run.Version)
}

func TestNextPendingRunEmptyQueue(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	run, err := NewClient(Config{BaseURL: srv.URL}).NextPendingRun(context.Background())
	require.NoError(t, err)
	require.Nil(t, run)
}

func TestUpdateRunStatusSendsPatch(t *testing.T) {
	t.Parallel()

	var got bookprice.RunStatusUpdate
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/v1/job-runs/r1", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewClient(Config{BaseURL: srv.URL}).UpdateRunStatus(context.Background(), bookprice.RunStatusUpdate{
		RunID: "r1", JobID: "j1", Version: 1, Status: bookprice.RunRunning,
	})
	require.NoError(t, err)
	require.Equal(t, "r1", got.RunID)
	require.Equal(t, bookprice.RunRunning, got.Status)
	require.Equal(t, 1, got.Version)
}

func TestUpdateRunStatusConflict(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	err := NewClient(Config{BaseURL: srv.URL}).UpdateRunStatus(context.Background(), bookprice.RunStatusUpdate{
		RunID: "r1", Version: 1, Status: bookprice.RunRunning,
	})
	require.ErrorIs(t, err, bookprice.ErrVersionConflict)
}

func TestUpdateRunStatusNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewClient(Config{BaseURL: srv.URL}).UpdateRunStatus(context.Background(), bookprice.RunStatusUpdate{
		RunID: "missing", Version: 1, Status: bookprice.RunRunning,
	})
	require.ErrorIs(t, err, bookprice.ErrNotFound)
}

func TestCreateRun(t *testing.T) {
	t.Parallel()

	var got bookprice.JobRun
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/job-runs", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	err := NewClient(Config{BaseURL: srv.URL}).CreateRun(context.Background(), bookprice.JobRun{
		JobID: "j1", JobName: "update_prices", Priority: bookprice.PriorityHigh,
	})
	require.NoError(t, err)
	require.Equal(t, "update_prices", got.JobName)
	require.Equal(t, bookprice.PriorityHigh, got.Priority)
}

func TestListJobs(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/jobs", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]bookprice.JobDefinition{
			{ID: "j1", Name: "update_prices", IsActive: true},
		})
	}))
	defer srv.Close()

	jobs, err := NewClient(Config{BaseURL: srv.URL}).ListJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "update_prices", jobs[0].Name)
}

func TestServerErrorSurfacesStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(Config{BaseURL: srv.URL}).ListJobs(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
}
