package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeffstoner/ganymede/internal/db"
	"github.com/jeffstoner/ganymede/internal/fleet"
	"github.com/jeffstoner/ganymede/internal/reporting"
	"github.com/jeffstoner/ganymede/internal/storage"
	"github.com/jeffstoner/ganymede/internal/testutil"
)

// ==============================================================================
// Test Helpers
// ==============================================================================

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSchemas struct {
	created []string
	dropped []string
}

func (r *recordingSchemas) CreateSchema(_ context.Context, name string) error {
	r.created = append(r.created, name)
	return nil
}

func (r *recordingSchemas) DropSchema(_ context.Context, name string) error {
	r.dropped = append(r.dropped, name)
	return nil
}

var fixedNow = time.Date(2024, 7, 1, 13, 4, 5, 0, time.UTC)

type fixture struct {
	db         *db.DB
	router     *gin.Engine
	schemas    *recordingSchemas
	uploadsDir string
}

func newFixture(t *testing.T, opts ...func(*RouterConfig)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database := testutil.NewTestDB(t)
	testutil.SeedAgent(t, database, "agent-1", "us", true, true)

	dir := filepath.Join(t.TempDir(), "uploads")
	uploads, err := storage.NewUploadStore(context.Background(), storage.Config{
		UploadURL:        dir,
		AllowedExtension: ".encrypted",
	})
	require.NoError(t, err)

	f := &fixture{
		db:         database,
		schemas:    &recordingSchemas{},
		uploadsDir: dir,
	}

	logger := createTestLogger()
	cfg := RouterConfig{
		Fleet:     fleet.NewManager(database, logger),
		Reporting: reporting.NewService(database, f.schemas, uploads, logger).WithClock(func() time.Time { return fixedNow }),
		Runs:      database,
		Logger:    logger,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.router = NewRouter(cfg)
	return f
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, httptest.NewRequest(http.MethodGet, BasePath+path, nil))
}

func (f *fixture) postForm(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, BasePath+path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return f.do(t, req)
}

func (f *fixture) upload(t *testing.T, path, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(uploadField, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, BasePath+path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return f.do(t, req)
}

// open creates a transaction for agent-1 and returns its ID
func (f *fixture) open(t *testing.T) string {
	t.Helper()
	rec := f.postForm(t, "/agent/agent-1/log", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var handoff map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &handoff))
	return handoff["transaction_id"].(string)
}

func stageForm(stage, status string) url.Values {
	return url.Values{
		"stage":     {stage},
		"status":    {status},
		"timestamp": {"2024-07-01T13:30:00"},
		"message":   {"ok"},
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error.Code
}

// ==============================================================================
// Heartbeat and routing
// ==============================================================================

func TestHeartbeat(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/heartbeat")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get(HeaderAgentCount))
	assert.Equal(t, float64(1), decode(t, rec)["num"])
}

func TestHeartbeat_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Close())

	rec := f.get(t, "/heartbeat")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, rec.Header().Get(HeaderAgentCount))
}

func TestInvalidPathIDs(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{
		"/agent/agent_1",
		"/agent/agent.1/log",
		"/agent/agent-1/log/trans%20id",
		"/worker/x%3By",
	} {
		t.Run(path, func(t *testing.T) {
			rec := f.get(t, path)
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, "not_found", errorCode(t, rec))
		})
	}
}

// ==============================================================================
// Agents
// ==============================================================================

func TestAgentLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.postForm(t, "/agent", url.Values{"name": {"edge-7"}, "enabled": {"ENABLE"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	uid := decode(t, rec)["agent_id"].(string)
	assert.Equal(t, BasePath+"/agent/"+uid, rec.Header().Get("Location"))

	rec = f.get(t, "/agent/"+uid)
	require.Equal(t, http.StatusOK, rec.Code)
	agent := decode(t, rec)["agent"].(map[string]any)
	assert.Equal(t, "edge-7", agent["agent_name"])
	assert.Equal(t, true, agent["enabled"])
	assert.Equal(t, true, agent["active"])
	assert.Equal(t, "", agent["geo_id"])

	rec = f.postForm(t, "/agent/"+uid, url.Values{"enabled": {"DISABLE"}})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.postForm(t, "/agent/"+uid+"/assign", url.Values{"geo": {"us"}, "release": {"r1"}})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.get(t, "/agent/"+uid)
	agent = decode(t, rec)["agent"].(map[string]any)
	assert.Equal(t, false, agent["enabled"])
	assert.Equal(t, "us", agent["geo_id"])

	rec = f.get(t, "/agent")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["agents"], 2)

	req := httptest.NewRequest(http.MethodDelete, BasePath+"/agent/"+uid, nil)
	require.Equal(t, http.StatusNoContent, f.do(t, req).Code)

	rec = f.get(t, "/agent/"+uid)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "agent_not_found", errorCode(t, rec))
}

func TestCreateAgent_MissingParameters(t *testing.T) {
	f := newFixture(t)

	tests := []url.Values{
		{"enabled": {"ENABLE"}},
		{"name": {"edge-7"}},
	}
	for _, form := range tests {
		rec := f.postForm(t, "/agent", form)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

func TestUpdateAgent_Errors(t *testing.T) {
	f := newFixture(t)

	rec := f.postForm(t, "/agent/agent-1", url.Values{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.postForm(t, "/agent/missing", url.Values{"name": {"x"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssignAgent_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		path string
		form url.Values
		code string
	}{
		{"unknown agent", "/agent/missing/assign", url.Values{"geo": {"us"}, "release": {"r1"}}, "agent_not_found"},
		{"unknown geo", "/agent/agent-1/assign", url.Values{"geo": {"eu"}, "release": {"r1"}}, "geo_not_found"},
		{"unknown release", "/agent/agent-1/assign", url.Values{"geo": {"us"}, "release": {"r9"}}, "release_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.postForm(t, tt.path, tt.form)
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}

	rec := f.postForm(t, "/agent/agent-1/assign", url.Values{"geo": {"us"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAgentLog(t *testing.T) {
	f := newFixture(t)
	id := f.open(t)

	rec := f.get(t, "/agent/agent-1/log")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	transactions := body["transactions"].([]any)
	require.Len(t, transactions, 1)
	entry := transactions[0].(map[string]any)
	assert.Equal(t, id, entry["transaction_id"])
	assert.Equal(t, BasePath+"/agent/agent-1/log/"+id, entry["transaction_url"])
	assert.Equal(t, BasePath+"/agent/agent-1", body["parent_url"])

	// A day long before the transaction was opened
	rec = f.get(t, "/agent/agent-1/log?year=2016&month=1&day=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["transactions"])
}

// ==============================================================================
// Transactions
// ==============================================================================

func TestCreateTransaction(t *testing.T) {
	f := newFixture(t)

	rec := f.postForm(t, "/agent/agent-1/log", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decode(t, rec)
	id := body["transaction_id"].(string)
	assert.Equal(t, "us", body["geo_id"])
	assert.Equal(t, "db.us.internal", body["db_host"])
	assert.Equal(t, "accounts orders", body["db_tables"])
	assert.NotEmpty(t, body["nonce"])
	assert.Equal(t, BasePath+"/agent/agent-1/log/"+id, rec.Header().Get("Location"))
	assert.Equal(t, rec.Header().Get("Location"), body["transaction_url"])
}

func TestCreateTransaction_UnknownAgent(t *testing.T) {
	f := newFixture(t)

	rec := f.postForm(t, "/agent/missing/log", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "agent_not_found", errorCode(t, rec))
}

func TestAppendAgentStage(t *testing.T) {
	f := newFixture(t)
	id := f.open(t)

	rec := f.postForm(t, "/agent/agent-1/log/"+id, stageForm("agent_dump", "success"))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "AGENT_DUMP", decode(t, rec)["stage"])

	rec = f.get(t, "/agent/agent-1/log/"+id)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode(t, rec)["transactions"].([]any)
	require.Len(t, events, 2)
	assert.Equal(t, "AGENT_INIT", events[0].(map[string]any)["stage"])
	assert.Equal(t, "2024-07-01T13:30:00", events[1].(map[string]any)["timestamp"])
}

func TestAppendAgentStage_Rejections(t *testing.T) {
	f := newFixture(t)
	id := f.open(t)

	tests := []struct {
		name   string
		path   string
		form   url.Values
		status int
	}{
		{"worker stage", "/agent/agent-1/log/" + id, stageForm("WORKER_LOAD", "SUCCESS"), http.StatusBadRequest},
		{"unknown status", "/agent/agent-1/log/" + id, stageForm("AGENT_DUMP", "MAYBE"), http.StatusBadRequest},
		{"missing fields", "/agent/agent-1/log/" + id, url.Values{"stage": {"AGENT_DUMP"}}, http.StatusBadRequest},
		{"unknown transaction", "/agent/agent-1/log/missing", stageForm("AGENT_DUMP", "SUCCESS"), http.StatusNotFound},
		{"unknown agent", "/agent/missing/log/" + id, stageForm("AGENT_DUMP", "SUCCESS"), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.postForm(t, tt.path, tt.form)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	events, err := f.db.EventsForTransaction(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestUpload(t *testing.T) {
	f := newFixture(t)
	id := f.open(t)

	rec := f.upload(t, "/agent/agent-1/transfer/"+id, "dump.encrypted", "ciphertext")
	require.Equal(t, http.StatusCreated, rec.Code)

	data, err := os.ReadFile(filepath.Join(f.uploadsDir, "dump.encrypted"))
	require.NoError(t, err)
	assert.Equal(t, "ciphertext", string(data))

	rec = f.upload(t, "/agent/agent-1/transfer/"+id, "dump.sql", "plain")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_dump", errorCode(t, rec))

	rec = f.postForm(t, "/agent/agent-1/transfer/"+id, url.Values{"other": {"x"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.postForm(t, "/agent/agent-1/log/"+id, stageForm("AGENT_END", "SUCCESS"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.upload(t, "/agent/agent-1/transfer/"+id, "late.encrypted", "ciphertext")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "transaction_closed", errorCode(t, rec))
}

func TestUpload_TooLarge(t *testing.T) {
	f := newFixture(t, func(cfg *RouterConfig) { cfg.MaxUploadBytes = 4 << 10 })
	id := f.open(t)

	rec := f.upload(t, "/agent/agent-1/transfer/"+id, "dump.encrypted", strings.Repeat("x", 1<<20))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "upload_too_large", errorCode(t, rec))

	_, err := os.Stat(filepath.Join(f.uploadsDir, "dump.encrypted"))
	assert.True(t, os.IsNotExist(err))

	rec = f.upload(t, "/agent/agent-1/transfer/"+id, "dump.encrypted", "ciphertext")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

// ==============================================================================
// Workers
// ==============================================================================

func TestWorkerHandoff(t *testing.T) {
	f := newFixture(t)
	id := f.open(t)

	rec := f.get(t, "/worker/"+id)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "transaction_not_found", errorCode(t, rec))

	require.Equal(t, http.StatusCreated, f.upload(t, "/agent/agent-1/transfer/"+id, "dump.encrypted", "x").Code)
	require.Equal(t, http.StatusCreated, f.postForm(t, "/agent/agent-1/log/"+id, stageForm("AGENT_END", "SUCCESS")).Code)

	rec = f.get(t, "/worker/"+id)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "dump.encrypted", body["filename"])
	assert.NotEmpty(t, body["nonce"])

	rec = f.postForm(t, "/worker/"+id, url.Values{"action": {"CREATE"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "worker_not_started", errorCode(t, rec))

	rec = f.postForm(t, "/worker/log/"+id, stageForm("WORKER_INIT", "SUCCESS"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.postForm(t, "/worker/"+id, url.Values{"action": {"create"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, reporting.SchemaName(id), decode(t, rec)["schema"])
	assert.Equal(t, []string{reporting.SchemaName(id)}, f.schemas.created)

	rec = f.postForm(t, "/worker/"+id, url.Values{"action": {"TRUNCATE"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_action", errorCode(t, rec))
}

func TestWorkerDetails_FailedTransaction(t *testing.T) {
	f := newFixture(t)
	id := f.open(t)

	require.Equal(t, http.StatusCreated, f.postForm(t, "/agent/agent-1/log/"+id, stageForm("AGENT_END", "FAIL")).Code)

	rec := f.get(t, "/worker/"+id)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "transaction_not_successful", errorCode(t, rec))
}

func TestAppendWorkerStage_RejectsAgentStage(t *testing.T) {
	f := newFixture(t)
	id := f.open(t)

	rec := f.postForm(t, "/worker/log/"+id, stageForm("AGENT_DUMP", "SUCCESS"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestManageSchema_UnsupportedDriver(t *testing.T) {
	gin.SetMode(gin.TestMode)
	database := testutil.NewTestDB(t)
	_, geo := testutil.SeedAgent(t, database, "agent-1", "us", true, true)

	logger := createTestLogger()
	router := NewRouter(RouterConfig{
		Fleet:     fleet.NewManager(database, logger),
		Reporting: reporting.NewService(database, database, nil, logger),
		Runs:      database,
		Logger:    logger,
	})

	ts := time.Date(2024, 7, 1, 13, 0, 0, 0, time.UTC)
	testutil.LogEvent(t, database, "t-1", geo.ID, ts, "WORKER_INIT", "SUCCESS")

	req := httptest.NewRequest(http.MethodPost, BasePath+"/worker/t-1",
		strings.NewReader(url.Values{"action": {"CREATE"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Equal(t, "unsupported", errorCode(t, rec))
}

// ==============================================================================
// Runs
// ==============================================================================

func TestListRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := time.Date(2024, 7, 1, 13, 10, 0, 0, time.UTC)
	for i, outcome := range []string{"complete", "timeout"} {
		require.NoError(t, f.db.CreateReconcileRun(ctx, &db.ReconcileRun{
			RunID:       outcome,
			StartedAt:   start.Add(time.Duration(i) * time.Hour),
			FinishedAt:  start.Add(time.Duration(i)*time.Hour + 30*time.Minute),
			WindowStart: start.Truncate(time.Hour),
			WindowEnd:   start.Truncate(time.Hour).Add(time.Hour),
			Iterations:  3,
			Outcome:     outcome,
		}))
	}

	rec := f.get(t, "/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode(t, rec)["runs"].([]any)
	require.Len(t, runs, 2)
	assert.Equal(t, "timeout", runs[0].(map[string]any)["outcome"])
	assert.Equal(t, "2024-07-01T13:00:00", runs[1].(map[string]any)["window_start"])

	rec = f.get(t, "/runs?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["runs"], 1)

	rec = f.get(t, "/runs?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ==============================================================================
// Middleware
// ==============================================================================

func TestCORS_AllowsConfiguredOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	database := testutil.NewTestDB(t)
	logger := createTestLogger()

	router := NewRouter(RouterConfig{
		Fleet:       fleet.NewManager(database, logger),
		Reporting:   reporting.NewService(database, nil, nil, logger),
		Runs:        database,
		Logger:      logger,
		CORSOrigins: []string{"http://dashboard.local"},
	})

	req := httptest.NewRequest(http.MethodOptions, BasePath+"/agent", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://dashboard.local", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestLogger_LevelByStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := testutil.NewTestLogger()

	r := gin.New()
	r.Use(RequestLogger(logger.Logger()))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for _, path := range []string{"/ok", "/bad", "/boom"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Len(t, logger.GetEntriesByLevel("INFO"), 1)
	assert.Len(t, logger.GetEntriesByLevel("WARN"), 1)
	assert.Len(t, logger.GetEntriesByLevel("ERROR"), 1)
}
