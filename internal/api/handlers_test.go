package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscore/internal/campaign"
	"github.com/sells-group/leadscore/internal/failure"
	"github.com/sells-group/leadscore/internal/ingest"
	"github.com/sells-group/leadscore/internal/model"
	"github.com/sells-group/leadscore/internal/pipeline"
	"github.com/sells-group/leadscore/internal/query"
	"github.com/sells-group/leadscore/internal/store"
	"github.com/sells-group/leadscore/pkg/mlscorer"
)

// --- Scorer Mock ---

type mockScorer struct {
	mock.Mock
}

func (m *mockScorer) BulkScore(ctx context.Context, filename string, payload []byte) (*mlscorer.BulkResponse, error) {
	args := m.Called(ctx, filename, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mlscorer.BulkResponse), args.Error(1)
}

func (m *mockScorer) Score(ctx context.Context, in model.ScoreInput) (*model.Prediction, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Prediction), args.Error(1)
}

func (m *mockScorer) Health(ctx context.Context) (map[string]any, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

const header = "age,job,marital,education,default,balance,housing,loan,contact,day,month,campaign,pdays,previous,poutcome"

const twoRows = header + "\n" +
	"30,admin.,married,secondary,no,1787,no,no,cellular,19,oct,1,-1,0,unknown\n" +
	"35,management,single,tertiary,no,1350,yes,no,cellular,16,apr,1,330,1,failure\n"

const twoScored = `{
	"success": true,
	"predictions": [
		{"row_index": 0, "probability": 0.12, "prediction": 0, "prediction_label": "no", "risk_level": "Low", "reason_codes": []},
		{"row_index": 1, "probability": 0.91, "prediction": 1, "prediction_label": "yes", "risk_level": "High",
		 "reason_codes": [{"feature": "poutcome", "direction": "negative", "shap_value": -0.2}]}
	],
	"summary": {"processed_rows": 2, "dropped_rows": 0, "avg_probability": 0.515,
		"conversion_high": 1, "conversion_medium": 0, "conversion_low": 1},
	"invalid_rows": []
}`

type envelope struct {
	Success    bool              `json:"success"`
	Data       json.RawMessage   `json:"data"`
	Message    string            `json:"message"`
	Error      string            `json:"error"`
	Details    json.RawMessage   `json:"details"`
	Pagination *query.Pagination `json:"pagination"`
}

type testServer struct {
	handler http.Handler
	scorer  *mockScorer
	store   store.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	sc := &mockScorer{}
	mgr := campaign.NewManager(st, nil)
	p := pipeline.New(ingest.NewValidator(ingest.Limits{MaxFileBytes: 1 << 20, MaxRows: 1000}), sc, mgr, 5*time.Second)
	h := NewHandlers(p, mgr, query.NewEngine(st, query.DefaultLimits()), 1<<20, "cli")

	return &testServer{
		handler: NewRouter(h, HeaderAuthenticator{}, []string{"http://localhost:3000"}),
		scorer:  sc,
		store:   st,
	}
}

func (s *testServer) do(t *testing.T, req *http.Request, user string) (int, envelope) {
	t.Helper()
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return rec.Code, env
}

func uploadRequest(t *testing.T, name, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if name != "" {
		require.NoError(t, mw.WriteField("name", name))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/campaigns/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func bulk(t *testing.T, body string) *mlscorer.BulkResponse {
	t.Helper()
	var r mlscorer.BulkResponse
	require.NoError(t, json.Unmarshal([]byte(body), &r))
	return &r
}

// seed uploads twoRows through the API and returns the new campaign.
func (s *testServer) seed(t *testing.T) model.Campaign {
	t.Helper()
	s.scorer.On("BulkScore", mock.Anything, "leads.csv", mock.Anything).Return(bulk(t, twoScored), nil).Once()
	code, env := s.do(t, uploadRequest(t, "Autumn", "leads.csv", twoRows), "user-1")
	require.Equal(t, http.StatusCreated, code, env.Error)

	var res struct {
		Campaign model.Campaign `json:"campaign"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	return res.Campaign
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	s.scorer.On("Health", mock.Anything).Return(map[string]any{"status": "healthy"}, nil).Once()

	code, env := s.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil), "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.Empty(t, env.Message)
	assert.JSONEq(t, `{"api":"ok","ml_service":"ok","ml_details":{"status":"healthy"}}`, string(env.Data))
}

func TestHealth_ScorerUnreachable(t *testing.T) {
	s := newTestServer(t)
	s.scorer.On("Health", mock.Anything).Return(nil, failure.ScoringTransport(errors.New("dial tcp: refused"), "ML service unreachable")).Once()

	code, env := s.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil), "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.Equal(t, "API is running but ML service is unreachable", env.Message)
}

func TestRequiresIdentity(t *testing.T) {
	s := newTestServer(t)
	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/campaigns"},
		{http.MethodGet, "/api/campaigns/x"},
		{http.MethodDelete, "/api/campaigns/x"},
		{http.MethodGet, "/api/campaigns/x/leads"},
		{http.MethodGet, "/api/leads/x"},
		{http.MethodPost, "/api/campaigns/upload"},
		{http.MethodPost, "/api/inference/score"},
	}
	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			code, env := s.do(t, httptest.NewRequest(p.method, p.path, nil), "")
			assert.Equal(t, http.StatusUnauthorized, code)
			assert.False(t, env.Success)
			assert.Equal(t, "Authentication required", env.Error)
		})
	}
}

func TestUpload_Success(t *testing.T) {
	s := newTestServer(t)
	s.scorer.On("BulkScore", mock.Anything, "leads.csv", []byte(twoRows)).Return(bulk(t, twoScored), nil).Once()

	code, env := s.do(t, uploadRequest(t, "Autumn", "leads.csv", twoRows), "user-1")
	require.Equal(t, http.StatusCreated, code, env.Error)
	assert.True(t, env.Success)
	assert.Equal(t, "Campaign created and leads scored successfully", env.Message)

	var res struct {
		Campaign    model.Campaign     `json:"campaign"`
		Summary     model.ScoreSummary `json:"summary"`
		InvalidRows []json.RawMessage  `json:"invalid_rows"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, model.CampaignStatusCompleted, res.Campaign.Status)
	assert.Equal(t, "user-1", res.Campaign.CreatedBy)
	assert.Equal(t, 2, res.Summary.ProcessedRows)
	assert.NotNil(t, res.InvalidRows)
	s.scorer.AssertExpectations(t)
}

func TestUpload_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		campaign string
		filename string
		content  string
		wantErr  string
	}{
		{"no_file", "Autumn", "", "", "File is required"},
		{"no_name", "", "leads.csv", twoRows, "Campaign name is required"},
		{"wrong_type", "Autumn", "leads.pdf", twoRows, "File must be a CSV"},
		{"empty", "Autumn", "leads.csv", "", "File is empty"},
		{"missing_columns", "Autumn", "leads.csv", "age,job\n30,admin.\n", "Missing required columns: marital, education, default, balance, housing, loan, contact, day, month, campaign, pdays, previous, poutcome"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			code, env := s.do(t, uploadRequest(t, tt.campaign, tt.filename, tt.content), "user-1")
			assert.Equal(t, http.StatusBadRequest, code)
			assert.False(t, env.Success)
			assert.Equal(t, tt.wantErr, env.Error)

			list, err := s.store.ListCampaigns(context.Background(), store.CampaignFilter{})
			require.NoError(t, err)
			assert.Empty(t, list, "rejected uploads must not open a campaign")
			s.scorer.AssertNotCalled(t, "BulkScore", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestUpload_NotMultipart(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/campaigns/upload", strings.NewReader(twoRows))
	req.Header.Set("Content-Type", "text/csv")

	code, env := s.do(t, req, "user-1")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Request must be multipart/form-data", env.Error)
}

func TestUpload_BodyOverLimit(t *testing.T) {
	s := newTestServer(t)
	big := twoRows + strings.Repeat("x", 3<<20)

	code, env := s.do(t, uploadRequest(t, "Autumn", "leads.csv", big), "user-1")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "File size must be less than 1MB", env.Error)
}

func TestUpload_ScorerFailure(t *testing.T) {
	s := newTestServer(t)
	s.scorer.On("BulkScore", mock.Anything, "leads.csv", mock.Anything).
		Return(nil, failure.ScoringTransport(errors.New("connection refused"), "ML service unreachable")).Once()

	code, env := s.do(t, uploadRequest(t, "Autumn", "leads.csv", twoRows), "user-1")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Failed to process CSV with ML service", env.Error)

	var details struct {
		CampaignID string `json:"campaign_id"`
		Error      string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(env.Details, &details))
	assert.Equal(t, "ML service unreachable", details.Error)

	c, err := s.store.GetCampaign(context.Background(), details.CampaignID)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, model.CampaignStatusFailed, c.Status)
	require.NotNil(t, c.ErrorMessage)
	assert.Equal(t, "ML service unreachable", *c.ErrorMessage)
}

func TestListCampaigns(t *testing.T) {
	s := newTestServer(t)
	c := s.seed(t)

	code, env := s.do(t, httptest.NewRequest(http.MethodGet, "/api/campaigns?limit=10", nil), "user-1")
	require.Equal(t, http.StatusOK, code)
	var list []model.Campaign
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, c.ID, list[0].ID)

	code, env = s.do(t, httptest.NewRequest(http.MethodGet, "/api/campaigns?createdBy=cli", nil), "user-1")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestListCampaigns_InvalidQuery(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, httptest.NewRequest(http.MethodGet, "/api/campaigns?limit=500&createdBy=bob", nil), "user-1")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid query parameters", env.Error)

	var issues []query.Issue
	require.NoError(t, json.Unmarshal(env.Details, &issues))
	assert.Len(t, issues, 2)
}

func TestGetAndDeleteCampaign(t *testing.T) {
	s := newTestServer(t)
	c := s.seed(t)

	code, env := s.do(t, httptest.NewRequest(http.MethodGet, "/api/campaigns/"+c.ID, nil), "user-1")
	require.Equal(t, http.StatusOK, code)
	var got model.Campaign
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 2, got.ProcessedRows)

	code, env = s.do(t, httptest.NewRequest(http.MethodDelete, "/api/campaigns/"+c.ID, nil), "user-2")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Campaign deleted", env.Message)

	code, env = s.do(t, httptest.NewRequest(http.MethodGet, "/api/campaigns/"+c.ID, nil), "user-1")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Campaign not found", env.Error)

	code, _ = s.do(t, httptest.NewRequest(http.MethodDelete, "/api/campaigns/"+c.ID, nil), "user-1")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCampaignLeads(t *testing.T) {
	s := newTestServer(t)
	c := s.seed(t)

	req := httptest.NewRequest(http.MethodGet, "/api/campaigns/"+c.ID+"/leads?riskLevel=High&pageSize=1", nil)
	code, env := s.do(t, req, "user-1")
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, query.Pagination{Page: 1, PageSize: 1, TotalPages: 1, TotalCount: 1}, *env.Pagination)

	var leads []model.Lead
	require.NoError(t, json.Unmarshal(env.Data, &leads))
	require.Len(t, leads, 1)
	assert.Equal(t, 1, leads[0].RowIndex)
	assert.Equal(t, "management", leads[0].Job)

	code, env = s.do(t, httptest.NewRequest(http.MethodGet, "/api/leads/"+leads[0].ID, nil), "user-1")
	require.Equal(t, http.StatusOK, code)
	var lead model.Lead
	require.NoError(t, json.Unmarshal(env.Data, &lead))
	require.Len(t, lead.ReasonCodes, 1)
	assert.Equal(t, "poutcome", lead.ReasonCodes[0].Feature)
}

func TestCampaignLeads_Errors(t *testing.T) {
	s := newTestServer(t)
	c := s.seed(t)

	code, env := s.do(t, httptest.NewRequest(http.MethodGet, "/api/campaigns/"+c.ID+"/leads?sortBy=name", nil), "user-1")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid query parameters", env.Error)

	code, env = s.do(t, httptest.NewRequest(http.MethodGet, "/api/campaigns/missing/leads", nil), "user-1")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Campaign not found", env.Error)

	code, env = s.do(t, httptest.NewRequest(http.MethodGet, "/api/leads/missing", nil), "user-1")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Lead not found", env.Error)
}

const validRecord = `{
	"age": 41, "job": "technician", "marital": "married", "education": "secondary",
	"default": "no", "balance": 1270.5, "housing": "yes", "loan": "no", "contact": "cellular",
	"day": 5, "month": "may", "campaign": 2, "pdays": -1, "previous": 0, "poutcome": "unknown"
}`

func TestScoreLead(t *testing.T) {
	s := newTestServer(t)
	s.scorer.On("Score", mock.Anything, mock.AnythingOfType("model.ScoreInput")).
		Return(&model.Prediction{Probability: 0.7, Prediction: 1, PredictionLabel: "yes", RiskLevel: model.RiskHigh}, nil).Once()

	code, env := s.do(t, httptest.NewRequest(http.MethodPost, "/api/inference/score", strings.NewReader(validRecord)), "user-1")
	require.Equal(t, http.StatusOK, code)

	var res pipeline.SingleResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 41, res.Input.Age)
	assert.Equal(t, model.RiskHigh, res.Prediction.RiskLevel)
	s.scorer.AssertExpectations(t)
}

func TestScoreLead_InvalidInput(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, httptest.NewRequest(http.MethodPost, "/api/inference/score", strings.NewReader(`{"age": "old"}`)), "user-1")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid input data", env.Error)
	assert.NotEmpty(t, env.Details)
	s.scorer.AssertNotCalled(t, "Score", mock.Anything, mock.Anything)
}

func TestScoreLead_ScorerError(t *testing.T) {
	s := newTestServer(t)
	s.scorer.On("Score", mock.Anything, mock.Anything).
		Return(nil, failure.ScoringTransport(errors.New("status 503"), "ML service returned 503")).Once()

	code, env := s.do(t, httptest.NewRequest(http.MethodPost, "/api/inference/score", strings.NewReader(validRecord)), "user-1")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Failed to get prediction from ML service", env.Error)
	assert.JSONEq(t, `"ML service returned 503"`, string(env.Details))
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(t, httptest.NewRequest(http.MethodGet, "/api/nope", nil), "user-1")
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, env.Success)
}

func TestHeaderAuthenticator(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	u, err := HeaderAuthenticator{}.CurrentUser(req)
	require.NoError(t, err)
	assert.Nil(t, u)

	req.Header.Set(HeaderUserID, "u-1")
	req.Header.Set(HeaderUserRole, "ADMIN")
	u, err = HeaderAuthenticator{}.CurrentUser(req)
	require.NoError(t, err)
	assert.Equal(t, &model.User{ID: "u-1", Role: model.RoleAdmin}, u)
}
