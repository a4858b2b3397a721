package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"contribledger/internal/activities"
	"contribledger/internal/archive"
	"contribledger/internal/errs"
	"contribledger/internal/evaluation"
	"contribledger/internal/metrics"
	"contribledger/internal/models"
	"contribledger/internal/util"
	"contribledger/internal/workflows"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
)

const (
	defaultBodyLimit = 32 << 20
	titleRunes       = 120
)

type Deps struct {
	Orchestrator *evaluation.Orchestrator
	Metrics      *metrics.Metrics
	// Temporal is optional. When set, evaluations run as workflows on
	// TaskQueue unless the caller asks for mode=sync.
	Temporal  tclient.Client
	TaskQueue string
	GraphPath string
	BodyLimit int64
	Log       zerolog.Logger
}

type Server struct {
	orch      *evaluation.Orchestrator
	metrics   *metrics.Metrics
	temporal  tclient.Client
	taskQueue string
	graphPath string
	bodyLimit int64
	log       zerolog.Logger
}

func NewServer(d Deps) *Server {
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.BodyLimit <= 0 {
		d.BodyLimit = defaultBodyLimit
	}
	return &Server{
		orch:      d.Orchestrator,
		metrics:   d.Metrics,
		temporal:  d.Temporal,
		taskQueue: d.TaskQueue,
		graphPath: d.GraphPath,
		bodyLimit: d.BodyLimit,
		log:       d.Log.With().Str("component", "api").Logger(),
	}
}

func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.StrictSlash(true)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	})
	r.Use(closeBodyMiddleware)
	r.Use(maxBodySizeMiddleware(s.bodyLimit))
	r.Use(loggingMiddleware(s.log))
	r.Use(recoverMiddleware(s.log))

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/contributions", s.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/contributions", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/contributions/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/contributions/{id}/evaluate", s.handleEvaluate).Methods(http.MethodPost)
	r.HandleFunc("/contributions/{id}/retry", s.handleRetry).Methods(http.MethodPost)
	r.HandleFunc("/contributions/{id}/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/contributions/{id}/allocations", s.handleAllocations).Methods(http.MethodGet)
	r.HandleFunc("/contributions/{id}/progress", s.handleProgress).Methods(http.MethodGet)

	r.HandleFunc("/epochs", s.handleEpochs).Methods(http.MethodGet)
	r.HandleFunc("/epochs/{name}", s.handleEpoch).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/graph", s.handleGraph).Methods(http.MethodGet)
	r.HandleFunc("/backfill", s.handleBackfill).Methods(http.MethodPost)
	return withCORS(r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "contributions": s.orch.Archive().Count()})
}

type submitRequest struct {
	SubmissionID string `json:"submission_id"`
	Title        string `json:"title"`
	Contributor  string `json:"contributor"`
	Category     string `json:"category"`
	Text         string `json:"text"`
}

// handleSubmit accepts either a JSON body or a multipart upload whose file
// part is a PDF or plain text.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var err error
		req, err = readUpload(r, s.bodyLimit)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeErr(w, http.StatusRequestEntityTooLarge, err)
				return
			}
			writeErr(w, http.StatusBadRequest, err)
			return
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		req.Title = util.TitleFromText(req.Text, titleRunes)
	}
	c, err := s.orch.Submit(r.Context(), archive.NewContribution{
		SubmissionID: req.SubmissionID,
		Title:        req.Title,
		Contributor:  req.Contributor,
		Category:     req.Category,
		Text:         req.Text,
	})
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func readUpload(r *http.Request, limit int64) (submitRequest, error) {
	if r.ContentLength > limit {
		return submitRequest{}, &http.MaxBytesError{Limit: limit}
	}
	if err := r.ParseMultipartForm(limit); err != nil {
		return submitRequest{}, fmt.Errorf("parse multipart: %w", err)
	}
	req := submitRequest{
		SubmissionID: r.FormValue("submission_id"),
		Title:        r.FormValue("title"),
		Contributor:  r.FormValue("contributor"),
		Category:     r.FormValue("category"),
		Text:         r.FormValue("text"),
	}
	fh, ok := firstFile(r.MultipartForm.File)
	if !ok {
		if strings.TrimSpace(req.Text) == "" {
			return submitRequest{}, fmt.Errorf("no files provided")
		}
		return req, nil
	}
	text, err := uploadText(fh)
	if err != nil {
		return submitRequest{}, err
	}
	req.Text = text
	return req, nil
}

func uploadText(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if strings.HasSuffix(strings.ToLower(fh.Filename), ".pdf") {
		return util.ExtractPDFTextFrom(bytes.NewReader(data), int64(len(data)))
	}
	return string(data), nil
}

func firstFile(m map[string][]*multipart.FileHeader) (*multipart.FileHeader, bool) {
	if fs := m["file"]; len(fs) > 0 {
		return fs[0], true
	}
	for _, v := range m {
		if len(v) > 0 {
			return v[0], true
		}
	}
	return nil, false
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		status models.Status
		metal  models.Metal
		err    error
	)
	if v := q.Get("status"); v != "" {
		if status, err = models.ParseStatus(v); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
	}
	if v := q.Get("metal"); v != "" {
		if metal, err = models.ParseMetal(v); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
	}
	contributor := strings.TrimSpace(q.Get("contributor"))

	arc := s.orch.Archive()
	var base []models.Contribution
	switch {
	case status != "":
		base = arc.ListByStatus(status)
	case contributor != "":
		base = arc.ListByContributor(contributor)
	case metal != "":
		base = arc.ListByMetal(metal)
	default:
		base = arc.All()
	}
	out := make([]models.Contribution, 0, len(base))
	for _, c := range base {
		if status != "" && c.Status != status {
			continue
		}
		if contributor != "" && c.Contributor != contributor {
			continue
		}
		if metal != "" && !c.HasMetal(metal) {
			continue
		}
		out = append(out, c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"contributions": out, "count": len(out)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	c, err := s.orch.Archive().Get(mux.Vars(r)["id"])
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.temporal != nil && r.URL.Query().Get("mode") != "sync" {
		s.startEvaluation(w, r, id)
		return
	}
	res, err := s.orch.Evaluate(r.Context(), id)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) startEvaluation(w http.ResponseWriter, r *http.Request, id string) {
	c, err := s.orch.Archive().Get(id)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if c.Status.Terminal() {
		writeDomainErr(w, errs.New(errs.KindAlreadyEvaluated, "evaluate", id, string(c.Status), "terminal status is final"))
		return
	}
	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:                                       workflows.EvaluationWorkflowID(id),
		TaskQueue:                                s.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.EvaluateContributionWorkflow, workflows.EvaluateContributionInput{
		SubmissionID: id,
		RefreshGraph: true,
	})
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"submission_id": id, "workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.Retry(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	cert, err := s.orch.Register(r.Context(), id)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submission_id": id, "certificate": cert})
}

func (s *Server) handleAllocations(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.orch.Archive().Get(id); err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submission_id": id, "allocations": s.orch.Ledger().AllocationsFor(id)})
}

// handleProgress queries the running workflow and falls back to the
// archived outcome when no workflow answers.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c, err := s.orch.Archive().Get(id)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if s.temporal != nil {
		resp, qerr := s.temporal.QueryWorkflow(r.Context(), workflows.EvaluationWorkflowID(id), "", workflows.QueryGetEvaluationStatus)
		if qerr == nil {
			var prog workflows.EvaluationProgress
			if err := resp.Get(&prog); err != nil {
				writeErr(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, prog)
			return
		}
	}
	out := activities.Summarize(c)
	writeJSON(w, http.StatusOK, workflows.EvaluationProgress{
		SubmissionID: id,
		CurrentStep:  "archived",
		Status:       strings.ToLower(string(c.Status)),
		Steps:        map[string]string{},
		Outcome:      &out,
	})
}

func (s *Server) handleEpochs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"epochs": s.orch.Ledger().Epochs()})
}

func (s *Server) handleEpoch(w http.ResponseWriter, r *http.Request) {
	info, err := s.orch.Ledger().EpochInfo(mux.Vars(r)["name"])
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Ledger().Statistics())
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.orch.RefreshGraph(r.Context(), s.graphPath)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	if s.temporal == nil {
		writeErr(w, http.StatusConflict, fmt.Errorf("workflow engine not configured"))
		return
	}
	var req workflows.BackfillInput
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
	}
	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:                                       "backfill",
		TaskQueue:                                s.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.BackfillWorkflow, req)
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

// writeDomainErr replies with the status for the error's Kind and carries
// the structured fields of an *errs.Error.
func writeDomainErr(w http.ResponseWriter, err error) {
	code := statusFor(err)
	apiErr := toAPIError(code, err)
	body := map[string]any{
		"code":    apiErr.Code,
		"message": apiErr.Message,
	}
	var e *errs.Error
	if errors.As(err, &e) {
		body["kind"] = e.Kind
		body["retryable"] = errs.Retryable(err)
		if e.SubmissionID != "" {
			body["submission_id"] = e.SubmissionID
		}
		if e.Status != "" {
			body["status"] = e.Status
		}
		if e.Detail != "" {
			body["detail"] = e.Detail
		}
	}
	writeJSON(w, code, map[string]any{"error": body})
}

func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindInvalidInput:
		return http.StatusBadRequest
	case errs.KindDuplicateID, errs.KindIllegalTransition, errs.KindInvalidState, errs.KindAlreadyEvaluated,
		errs.KindTierUnavailable, errs.KindInsufficientBalance, errs.KindNoEligibleEpoch:
		return http.StatusConflict
	case errs.KindCollaboratorUnavailable, errs.KindParse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	switch {
	case status == http.StatusBadGateway:
		return apiError{Code: "CL-API-5020", Message: "Scoring collaborator unavailable. The contribution stays in evaluation; retry shortly."}
	case status >= 500:
		return apiError{Code: "CL-API-5000", Message: "Internal server error. Please retry or check service logs."}
	}

	code, msg := "CL-API-4000", "Request failed."
	switch status {
	case http.StatusBadRequest:
		code, msg = "CL-API-4001", "Invalid request. Check inputs and retry."
	case http.StatusNotFound:
		code, msg = "CL-API-4004", "Requested resource was not found."
	case http.StatusConflict:
		code, msg = "CL-API-4009", "Operation conflicts with current state. Retry after checking status."
	case http.StatusMethodNotAllowed:
		code, msg = "CL-API-4005", "This endpoint does not support the requested method."
	}

	if err != nil {
		low := strings.ToLower(err.Error())
		switch {
		case strings.Contains(low, "invalid json"):
			msg = "Malformed JSON request body."
		case strings.Contains(low, "no files provided"):
			msg = "No file or text was provided."
		case strings.Contains(low, "contributor is required"):
			msg = "Contributor is required."
		case strings.Contains(low, "text is empty"), strings.Contains(low, "no extractable text"):
			msg = "Contribution text is empty."
		case strings.Contains(low, "already archived"):
			msg = "A contribution with this submission id already exists."
		case strings.Contains(low, "terminal status is final"):
			msg = "Contribution has already been evaluated."
		}
	}
	return apiError{Code: code, Message: msg}
}
