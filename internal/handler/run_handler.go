package handler

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"finrep/internal/domain"
	"finrep/internal/middleware"
	"finrep/internal/report"
	"finrep/internal/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// RunHandler handles document run endpoints.
type RunHandler struct {
	runSvc service.RunService
}

// NewRunHandler creates a new RunHandler.
func NewRunHandler(runSvc service.RunService) *RunHandler {
	return &RunHandler{runSvc: runSvc}
}

type submitRunRequest struct {
	DocumentID  string                  `json:"document_id"`
	DocumentRef string                  `json:"document_ref" binding:"required"`
	References  []domain.ReferenceValue `json:"references"`
}

// RunView is the GET /runs/:id payload.
type RunView struct {
	Request *domain.RunRequest `json:"request"`
	Result  *domain.RunResult  `json:"result,omitempty"`
}

// Submit handles POST /api/v1/runs
func (h *RunHandler) Submit(c *gin.Context) {
	var req submitRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	run, err := h.runSvc.Submit(c.Request.Context(), &service.SubmitRunInput{
		DocumentID:  req.DocumentID,
		DocumentRef: req.DocumentRef,
		References:  req.References,
	})
	if err != nil {
		HandleError(c, err)
		return
	}

	zap.L().Info("RunHandler.Submit: run queued",
		zap.String("run_id", run.ID.String()),
		zap.String("subject", middleware.GetSubject(c)),
	)
	RespondAccepted(c, run)
}

// Get handles GET /api/v1/runs/:id
func (h *RunHandler) Get(c *gin.Context) {
	runID, ok := parseRunID(c)
	if !ok {
		return
	}
	req, res, err := h.runSvc.GetRun(c.Request.Context(), runID)
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondOK(c, RunView{Request: req, Result: res})
}

// Receipts handles GET /api/v1/runs/:id/receipts
func (h *RunHandler) Receipts(c *gin.Context) {
	runID, ok := parseRunID(c)
	if !ok {
		return
	}
	receipts, err := h.runSvc.ListReceipts(c.Request.Context(), runID)
	if err != nil {
		HandleError(c, err)
		return
	}
	if receipts == nil {
		receipts = []domain.Receipt{}
	}
	RespondList(c, receipts, len(receipts))
}

// Verify handles GET /api/v1/runs/:id/verify
func (h *RunHandler) Verify(c *gin.Context) {
	runID, ok := parseRunID(c)
	if !ok {
		return
	}
	rep, err := h.runSvc.VerifyRun(c.Request.Context(), runID)
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondOK(c, rep)
}

// Report handles GET /api/v1/runs/:id/report.xlsx
func (h *RunHandler) Report(c *gin.Context) {
	runID, ok := parseRunID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	_, res, err := h.runSvc.GetRun(ctx, runID)
	if err != nil {
		HandleError(c, err)
		return
	}
	if res == nil {
		RespondError(c, http.StatusConflict, "RUN_NOT_FINISHED", "run has not finished yet")
		return
	}
	receipts, err := h.runSvc.ListReceipts(ctx, runID)
	if err != nil {
		HandleError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteWorkbook(&buf, res, receipts); err != nil {
		HandleError(c, err)
		return
	}
	filename := report.BuildFilename(res.DocumentID, res.FinishedAt, "xlsx")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func parseRunID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_ID", "invalid run ID")
		return uuid.Nil, false
	}
	return id, true
}
