package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"consolidator/pkg/job"
)

func writeFixtureProject(t *testing.T) string {
	t.Helper()
	doc := `<Project>
		<Sequence ObjectUID="seq-1" ClassID="6a15d903-8739-11d5-af2d-9b7855ad8974">
			<Name>Main Edit</Name>
		</Sequence>
	</Project>`

	path := filepath.Join(t.TempDir(), "project.prproj")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	w := gzip.NewWriter(f)
	_, err = w.Write([]byte(doc))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return path
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return &Service{
		Projects: NewProjectCache(),
		Registry: job.NewRegistry(),
	}
}

func TestProjectInfoReturnsParsedProject(t *testing.T) {
	path := writeFixtureProject(t)
	s := newTestService(t)

	req := httptest.NewRequest(http.MethodGet, "/api/project_info?path="+path, nil)
	rec := httptest.NewRecorder()
	s.ProjectInfo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Main Edit")
}

func TestProjectInfoRejectsWrongMethod(t *testing.T) {
	s := newTestService(t)
	req := httptest.NewRequest(http.MethodPost, "/api/project_info", nil)
	rec := httptest.NewRecorder()
	s.ProjectInfo().ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAuthRejectsMissingCredentials(t *testing.T) {
	s := newTestService(t)
	s.AuthUsername = "admin"
	s.AuthPasswordHash = "$2a$10$invalidbutpresenthashvalueeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

	req := httptest.NewRequest(http.MethodGet, "/api/project_info?path=x", nil)
	rec := httptest.NewRecorder()
	s.ProjectInfo().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStartConsolidationReturnsJobID(t *testing.T) {
	path := writeFixtureProject(t)
	s := newTestService(t)

	body := []byte(`{"project_path":"` + path + `","output_root":"` + filepath.Join(t.TempDir(), "out") + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/consolidate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.StartConsolidation().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "job_id")
}

func TestCancelConsolidationReportsMissingJob(t *testing.T) {
	s := newTestService(t)
	req := httptest.NewRequest(http.MethodPost, "/api/cancel?job_id=nonexistent", nil)
	rec := httptest.NewRecorder()
	s.CancelConsolidation().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckTranscoderReportsUnavailableWhenNil(t *testing.T) {
	s := newTestService(t)
	req := httptest.NewRequest(http.MethodGet, "/api/check_transcoder", nil)
	rec := httptest.NewRecorder()
	s.CheckTranscoder().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"available":false`)
}

func TestProjectCacheReusesParsedProject(t *testing.T) {
	path := writeFixtureProject(t)
	c := NewProjectCache()

	p1, err := c.Get(path)
	require.NoError(t, err)
	p2, err := c.Get(path)
	require.NoError(t, err)
	require.Same(t, p1, p2)

	c.Invalidate(path)
	p3, err := c.Get(path)
	require.NoError(t, err)
	require.NotSame(t, p1, p3)
}
