package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"finrep/internal/auth"
	"finrep/internal/config"
	"finrep/internal/domain"
	"finrep/internal/handler"
	"finrep/internal/router"
	"finrep/internal/service"
	"finrep/mocks"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

type apiFixture struct {
	engine *gin.Engine
	svc    *mocks.MockRunService
	token  string
}

func newAPI(t *testing.T, pingErr error) *apiFixture {
	t.Helper()
	tokens, err := auth.NewTokenManager(config.JWTConfig{Secret: "secret", Issuer: "finrep"})
	require.NoError(t, err)
	token, err := tokens.Issue("tester", "", time.Hour)
	require.NoError(t, err)

	svc := new(mocks.MockRunService)
	engine := router.Setup(tokens, nil, prometheus.NewRegistry(),
		handler.NewRunHandler(svc), handler.NewHealthHandler(fakePinger{err: pingErr}))
	return &apiFixture{engine: engine, svc: svc, token: token}
}

func (f *apiFixture) do(method, path, body string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+f.token)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) handler.APIResponse {
	t.Helper()
	var resp handler.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestRunHandler_Submit(t *testing.T) {
	f := newAPI(t, nil)
	runID := uuid.New()
	f.svc.On("Submit", mock.Anything, mock.MatchedBy(func(in *service.SubmitRunInput) bool {
		return in.DocumentRef == "s3://reports/a.pdf" && len(in.References) == 1 && in.References[0].Number == 4512000
	})).Return(&domain.RunRequest{ID: runID, DocumentRef: "s3://reports/a.pdf", Status: domain.RunStatusQueued}, nil)

	w := f.do(http.MethodPost, "/api/v1/runs",
		`{"document_ref":"s3://reports/a.pdf","references":[{"field":"income_statement.revenue","kind":"numeric","number":4512000}]}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	resp := decode(t, w)
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, runID.String(), data["id"])
	f.svc.AssertExpectations(t)
}

func TestRunHandler_Submit_MissingRef(t *testing.T) {
	f := newAPI(t, nil)

	w := f.do(http.MethodPost, "/api/v1/runs", `{"document_id":"x"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decode(t, w).Error.Code)
	f.svc.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestRunHandler_Submit_InvalidReferences(t *testing.T) {
	f := newAPI(t, nil)
	f.svc.On("Submit", mock.Anything, mock.Anything).
		Return(nil, errors.Join(domain.ErrInvalidInput, errors.New("unknown kind")))

	w := f.do(http.MethodPost, "/api/v1/runs", `{"document_ref":"a.pdf","references":[{"field":"x","kind":"date"}]}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", decode(t, w).Error.Code)
}

func TestRunHandler_RequiresToken(t *testing.T) {
	f := newAPI(t, nil)
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/runs/"+uuid.NewString(), http.NoBody)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRunHandler_Get(t *testing.T) {
	f := newAPI(t, nil)
	runID := uuid.New()
	f.svc.On("GetRun", mock.Anything, runID).Return(
		&domain.RunRequest{ID: runID, Status: domain.RunStatusPassed},
		&domain.RunResult{RunID: runID, Status: domain.DocumentStatusCompleted, Gate: &domain.GateResult{Passed: true, Checked: 3}},
		nil,
	)

	w := f.do(http.MethodGet, "/api/v1/runs/"+runID.String(), "")

	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w).Data.(map[string]interface{})
	result := data["result"].(map[string]interface{})
	assert.Equal(t, "completed", result["status"])
}

func TestRunHandler_Get_NotFound(t *testing.T) {
	f := newAPI(t, nil)
	runID := uuid.New()
	f.svc.On("GetRun", mock.Anything, runID).Return(nil, nil, domain.ErrNotFound)

	w := f.do(http.MethodGet, "/api/v1/runs/"+runID.String(), "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunHandler_Get_InvalidID(t *testing.T) {
	f := newAPI(t, nil)
	w := f.do(http.MethodGet, "/api/v1/runs/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunHandler_Receipts(t *testing.T) {
	f := newAPI(t, nil)
	runID := uuid.New()
	f.svc.On("ListReceipts", mock.Anything, runID).Return([]domain.Receipt{
		{CallID: uuid.New(), RunID: runID, Kind: domain.CallKindExtract},
		{CallID: uuid.New(), RunID: runID, Kind: domain.CallKindEvaluate},
	}, nil)

	w := f.do(http.MethodGet, "/api/v1/runs/"+runID.String()+"/receipts", "")

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, 2, resp.Meta.Total)
}

func TestRunHandler_Verify(t *testing.T) {
	f := newAPI(t, nil)
	runID := uuid.New()
	f.svc.On("VerifyRun", mock.Anything, runID).Return(&service.VerifyReport{RunID: runID, Total: 2, Valid: 2, Verified: true}, nil)

	w := f.do(http.MethodGet, "/api/v1/runs/"+runID.String()+"/verify", "")

	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w).Data.(map[string]interface{})
	assert.Equal(t, true, data["verified"])
}

func TestRunHandler_Report(t *testing.T) {
	f := newAPI(t, nil)
	runID := uuid.New()
	res := &domain.RunResult{
		RunID:      runID,
		DocumentID: "brf-solen",
		Status:     domain.DocumentStatusCompleted,
		Record:     &domain.DocumentRecord{Data: map[string]any{"balance_sheet": map[string]any{"total_assets": 100.0}}},
		FinishedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	f.svc.On("GetRun", mock.Anything, runID).Return(&domain.RunRequest{ID: runID}, res, nil)
	f.svc.On("ListReceipts", mock.Anything, runID).Return([]domain.Receipt{}, nil)

	w := f.do(http.MethodGet, "/api/v1/runs/"+runID.String()+"/report.xlsx", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "brf-solen_2024-03-01.xlsx")
	wb, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer wb.Close()
	rows, err := wb.GetRows("Fields")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "balance_sheet.total_assets", rows[1][0])
}

func TestRunHandler_Report_NotFinished(t *testing.T) {
	f := newAPI(t, nil)
	runID := uuid.New()
	f.svc.On("GetRun", mock.Anything, runID).Return(&domain.RunRequest{ID: runID, Status: domain.RunStatusQueued}, nil, nil)

	w := f.do(http.MethodGet, "/api/v1/runs/"+runID.String()+"/report.xlsx", "")

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHealthHandler(t *testing.T) {
	f := newAPI(t, nil)
	req, _ := http.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	down := newAPI(t, errors.New("connection refused"))
	req, _ = http.NewRequest(http.MethodGet, "/readyz", http.NoBody)
	w = httptest.NewRecorder()
	down.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpointIsPublic(t *testing.T) {
	f := newAPI(t, nil)
	req, _ := http.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
