package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/leadscore/internal/campaign"
	"github.com/sells-group/leadscore/internal/failure"
	"github.com/sells-group/leadscore/internal/ingest"
	"github.com/sells-group/leadscore/internal/model"
	"github.com/sells-group/leadscore/internal/pipeline"
	"github.com/sells-group/leadscore/internal/query"
)

const (
	// multipartSlack covers form boundaries and the name field on top of
	// the file itself.
	multipartSlack = 1 << 20
	maxJSONBody    = 1 << 20
	memoryLimit    = 32 << 20
)

// Handlers serves the campaign, lead, inference and health endpoints.
type Handlers struct {
	pipeline  *pipeline.Pipeline
	campaigns *campaign.Manager
	queries   *query.Engine
	maxUpload int64
	cliUser   string
}

// NewHandlers creates Handlers. maxUpload is the largest accepted file in
// bytes; cliUser is the identity CLI ingestion records as creator.
func NewHandlers(p *pipeline.Pipeline, m *campaign.Manager, e *query.Engine, maxUpload int64, cliUser string) *Handlers {
	return &Handlers{pipeline: p, campaigns: m, queries: e, maxUpload: maxUpload, cliUser: cliUser}
}

// Health always answers 200; the scorer's state is part of the body.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	report := h.pipeline.Health(r.Context())
	msg := ""
	if !report.Healthy() {
		msg = "API is running but ML service is " + report.MLService
	}
	respondSuccess(w, http.StatusOK, report, msg)
}

// UploadCampaign ingests a multipart upload with fields file and name.
func (h *Handlers) UploadCampaign(w http.ResponseWriter, r *http.Request) {
	user := UserFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartSlack)
	if err := r.ParseMultipartForm(memoryLimit); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			respondFailure(w, r, ingest.TooLarge(0, h.maxUpload))
			return
		}
		respondError(w, http.StatusBadRequest, "Request must be multipart/form-data", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	u := &ingest.Upload{CampaignName: r.FormValue("name")}
	if u.CampaignName == "" {
		u.CampaignName = r.FormValue("campaignName")
	}

	f, hdr, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		respondError(w, http.StatusBadRequest, "Could not read uploaded file", err.Error())
		return
	default:
		defer f.Close() //nolint:errcheck
		data, rerr := io.ReadAll(io.LimitReader(f, h.maxUpload+1))
		if rerr != nil {
			respondError(w, http.StatusBadRequest, "Could not read uploaded file", rerr.Error())
			return
		}
		u.Filename = hdr.Filename
		u.ContentType = hdr.Header.Get("Content-Type")
		u.Size = hdr.Size
		u.Data = data
	}

	res, err := h.pipeline.Ingest(r.Context(), u, user.ID)
	if err != nil {
		var ce *pipeline.CampaignError
		if errors.As(err, &ce) {
			respondError(w, http.StatusInternalServerError, "Failed to process CSV with ML service", map[string]string{
				"campaign_id": ce.CampaignID,
				"error":       failure.Message(ce.Err),
			})
			return
		}
		respondFailure(w, r, err)
		return
	}
	respondSuccess(w, http.StatusCreated, res, "Campaign created and leads scored successfully")
}

// ListCampaigns lists campaigns newest first, filtered by limit and
// createdBy.
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	filter, err := query.ParseCampaignFilter(r.URL.Query(), h.queries.Limits(), h.cliUser)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	list, err := h.campaigns.List(r.Context(), filter)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	if list == nil {
		list = []model.Campaign{}
	}
	respondSuccess(w, http.StatusOK, list, "")
}

// GetCampaign returns one campaign.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, c, "")
}

// DeleteCampaign removes a campaign and its leads.
func (h *Handlers) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.campaigns.Delete(r.Context(), id, UserFrom(r.Context()).ID); err != nil {
		respondFailure(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]string{"id": id}, "Campaign deleted")
}

// CampaignLeads returns one page of a campaign's leads.
func (h *Handlers) CampaignLeads(w http.ResponseWriter, r *http.Request) {
	page, err := h.queries.Leads(r.Context(), chi.URLParam(r, "id"), r.URL.Query())
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondPage(w, page.Leads, page.Pagination)
}

// GetLead returns one lead with its reason codes.
func (h *Handlers) GetLead(w http.ResponseWriter, r *http.Request) {
	l, err := h.queries.Lead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, l, "")
}

// ScoreLead scores a single JSON record without persisting it.
func (h *Handlers) ScoreLead(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid input data", err.Error())
		return
	}

	res, err := h.pipeline.ScoreOne(r.Context(), body)
	if err != nil {
		if failure.Is(err, failure.KindValidation) {
			respondFailure(w, r, err)
			return
		}
		zap.L().Error("api: single score failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get prediction from ML service", failure.Message(err))
		return
	}
	respondSuccess(w, http.StatusOK, res, "")
}

func notFound(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "Not found: "+strings.TrimPrefix(r.URL.Path, "/"), nil)
}
