package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"github.com/DVA-LAB/DVA-LAB-MVP/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handlers expose a SessionController over HTTP.
type Handlers struct {
	ctrl   *usecase.SessionController
	logger *zap.Logger
}

func NewHandlers(ctrl *usecase.SessionController, logger *zap.Logger) *Handlers {
	return &Handlers{ctrl: ctrl, logger: logger}
}

type pointRequest struct {
	X    float64     `json:"x"`
	Y    float64     `json:"y"`
	Rect entity.Rect `json:"rect"`
}

// distanceRequest takes the distance as a number or as the text the
// operator typed.
type distanceRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
}

func (r distanceRequest) text() string {
	var s string
	if err := json.Unmarshal(r.Value, &s); err == nil {
		return s
	}
	return string(r.Value)
}

// skipRequest carries a number of skip steps; its sign is the direction.
type skipRequest struct {
	Delta float64 `json:"delta" binding:"required"`
}

type timeRequest struct {
	Time *float64 `json:"time" binding:"required"`
}

type enqueueRequest struct {
	Kind  entity.ExportKind `json:"kind" binding:"required"`
	Email string            `json:"email"`
}

func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Error: "not found", Detail: "malformed session id"})
		return uuid.Nil, false
	}
	return id, true
}

// respond writes the session view after a successful transition.
func (h *Handlers) respond(c *gin.Context, id uuid.UUID, err error) {
	if err != nil {
		abortWithError(c, err)
		return
	}
	v, err := h.ctrl.Get(id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// CreateSession starts a session and uploads the video in form field "file".
func (h *Handlers) CreateSession(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, err)
		return
	}
	id := h.ctrl.Create().ID
	if err := h.upload(c, id, fh); err != nil {
		status := statusFor(err)
		c.Error(err)
		c.AbortWithStatusJSON(status, ErrorResponse{
			Error:     errorTitle(status),
			Detail:    err.Error(),
			SessionID: id.String(),
		})
		return
	}
	v, err := h.ctrl.Get(id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

// UploadVideo retries the upload of a session that is still Idle.
func (h *Handlers) UploadVideo(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, err)
		return
	}
	h.respond(c, id, h.upload(c, id, fh))
}

func (h *Handlers) upload(c *gin.Context, id uuid.UUID, fh *multipart.FileHeader) error {
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = h.ctrl.Upload(c.Request.Context(), id, fh.Filename, f, formBool(c, "preprocess", true))
	return err
}

func formBool(c *gin.Context, key string, def bool) bool {
	v, ok := c.GetPostForm(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func (h *Handlers) GetSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	h.respond(c, id, nil)
}

func (h *Handlers) Teardown(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if err := h.ctrl.Teardown(id); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) UploadFlightLog(c *gin.Context) {
	h.logUpload(c, h.ctrl.UploadFlightLog)
}

func (h *Handlers) UploadTelemetry(c *gin.Context) {
	h.logUpload(c, h.ctrl.UploadTelemetry)
}

func (h *Handlers) logUpload(c *gin.Context, upload func(ctx context.Context, id uuid.UUID, name string, r io.Reader) error) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer f.Close()
	h.respond(c, id, upload(c.Request.Context(), id, fh.Filename, f))
}

func (h *Handlers) SyncLogs(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	h.respond(c, id, h.ctrl.SyncLogs(c.Request.Context(), id))
}

func (h *Handlers) TogglePlayback(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	_, err := h.ctrl.TogglePlayPause(id)
	h.respond(c, id, err)
}

func (h *Handlers) Skip(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req skipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	_, err := h.ctrl.Skip(id, req.Delta)
	h.respond(c, id, err)
}

func (h *Handlers) Seek(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req timeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	_, err := h.ctrl.Seek(id, *req.Time)
	h.respond(c, id, err)
}

func (h *Handlers) TimeUpdated(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req timeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	_, err := h.ctrl.TimeUpdated(id, *req.Time)
	h.respond(c, id, err)
}

func (h *Handlers) ToggleAnnotating(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	_, err := h.ctrl.ToggleAnnotating(id)
	h.respond(c, id, err)
}

func (h *Handlers) PlacePoint(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req pointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	_, err := h.ctrl.PlacePoint(id, req.X, req.Y, req.Rect)
	h.respond(c, id, err)
}

func (h *Handlers) AbortPair(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	_, err := h.ctrl.AbortPair(id)
	h.respond(c, id, err)
}

func (h *Handlers) RecordDistance(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req distanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	_, err := h.ctrl.RecordDistanceInput(c.Request.Context(), id, req.text())
	h.respond(c, id, err)
}

func (h *Handlers) Calibrations(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	snaps, err := h.ctrl.Calibrations(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if snaps == nil {
		snaps = []entity.CalibrationSnapshot{}
	}
	c.JSON(http.StatusOK, snaps)
}

func (h *Handlers) EnterBEV(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	_, err := h.ctrl.EnterBEV(c.Request.Context(), id)
	h.respond(c, id, err)
}

func (h *Handlers) ExitBEV(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	_, err := h.ctrl.ExitBEV(c.Request.Context(), id)
	h.respond(c, id, err)
}

func (h *Handlers) BEVImage(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	img, err := h.ctrl.BEVImage(id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(img), img)
}

func (h *Handlers) EnterResults(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	_, err := h.ctrl.EnterResults(c.Request.Context(), id)
	h.respond(c, id, err)
}

// Overlay serves the current overlay surface as a transparent PNG.
func (h *Handlers) Overlay(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	img, err := h.ctrl.Overlay(id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Header("Content-Type", "image/png")
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)
	if err := png.Encode(c.Writer, img); err != nil {
		h.logger.Warn("failed to write overlay", zap.Error(err))
	}
}

func (h *Handlers) ExportFrame(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	res, err := h.ctrl.ExportFrame(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ExportVideo blocks until the export is saved or canceled.
func (h *Handlers) ExportVideo(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	res, err := h.ctrl.ExportVideo(c.Request.Context(), id, nil)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) CancelExport(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if err := h.ctrl.CancelExport(id); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handlers) EnqueueExport(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Kind != entity.ExportKindStill && req.Kind != entity.ExportKindVideo {
		badRequest(c, errors.New("kind must be STILL or VIDEO"))
		return
	}
	job, err := h.ctrl.EnqueueExport(c.Request.Context(), id, req.Kind, req.Email)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (h *Handlers) ExportJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("jobID"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Error: "not found", Detail: "malformed job id"})
		return
	}
	job, err := h.ctrl.ExportJob(c.Request.Context(), jobID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job":      job,
		"progress": job.Progress(),
	})
}

// CancelExportJob stops a queued or running asynchronous export.
func (h *Handlers) CancelExportJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("jobID"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Error: "not found", Detail: "malformed job id"})
		return
	}
	job, err := h.ctrl.CancelExportJob(c.Request.Context(), jobID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}
