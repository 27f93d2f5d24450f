package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-admin-api/internal/dto"
	"github.com/noah-isme/school-admin-api/internal/middleware"
	"github.com/noah-isme/school-admin-api/internal/service"
	appErrors "github.com/noah-isme/school-admin-api/pkg/errors"
	"github.com/noah-isme/school-admin-api/pkg/response"
)

const maxSessionWait = 30 * time.Second

type reportService interface {
	Compose(ctx context.Context, params dto.ReportParams) (*dto.ReportView, bool, error)
}

type reportExporter interface {
	Export(ctx context.Context, params dto.ReportParams, format string) (*service.ExportFile, error)
}

type reportSessions interface {
	Activate(userID string, params dto.ReportParams) (*service.ReportSession, uint64, error)
	Get(userID string) (*service.ReportSession, bool)
	Remove(userID string) bool
}

// ReportHandler exposes report views, exports and per-user report sessions.
type ReportHandler struct {
	reports  reportService
	exporter reportExporter
	sessions reportSessions
}

// NewReportHandler constructs the handler.
func NewReportHandler(reports reportService, exporter reportExporter, sessions reportSessions) *ReportHandler {
	return &ReportHandler{reports: reports, exporter: exporter, sessions: sessions}
}

func bindReportParams(c *gin.Context) (dto.ReportParams, bool) {
	var params dto.ReportParams
	if err := c.ShouldBindQuery(&params); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid report parameters"))
		return params, false
	}
	params.Type = dto.ReportType(c.Param("type"))
	return params, true
}

// Get godoc
// @Summary Compose a report
// @Description Builds the report view for the type and period. Range reports take startDate/endDate or month/year, daily takes date.
// @Tags Reports
// @Produce json
// @Param type path string true "Report type" Enums(admissions, fee_collection, student_attendance, staff_attendance, expenses, income_statement, daily, student_monthly)
// @Param startDate query string false "Start date (YYYY-MM-DD)"
// @Param endDate query string false "End date (YYYY-MM-DD)"
// @Param month query int false "Month (1-12)"
// @Param year query int false "Year"
// @Param date query string false "Day for the daily report (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /reports/{type} [get]
func (h *ReportHandler) Get(c *gin.Context) {
	params, ok := bindReportParams(c)
	if !ok {
		return
	}
	view, cacheHit, err := h.reports.Compose(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, view, nil, withMeta(c))
}

// Export godoc
// @Summary Export a report
// @Tags Reports
// @Produce octet-stream
// @Param type path string true "Report type"
// @Param format query string false "csv, pdf or xlsx" default(csv)
// @Param startDate query string false "Start date (YYYY-MM-DD)"
// @Param endDate query string false "End date (YYYY-MM-DD)"
// @Param month query int false "Month (1-12)"
// @Param year query int false "Year"
// @Param date query string false "Day for the daily report (YYYY-MM-DD)"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /reports/{type}/export [get]
func (h *ReportHandler) Export(c *gin.Context) {
	params, ok := bindReportParams(c)
	if !ok {
		return
	}
	file, err := h.exporter.Export(c.Request.Context(), params, c.DefaultQuery("format", service.FormatCSV))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

// ActivateSession godoc
// @Summary Activate the report session
// @Description Starts loading the report for the signed-in user. Any earlier request in the session is superseded.
// @Tags Reports
// @Accept json
// @Produce json
// @Param wait query bool false "Block until the report is ready or failed"
// @Param payload body dto.ReportParams true "Report parameters"
// @Success 202 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /reports/session [put]
func (h *ReportHandler) ActivateSession(c *gin.Context) {
	sess := requireSession(c)
	if sess == nil {
		return
	}
	var params dto.ReportParams
	if err := c.ShouldBindJSON(&params); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	session, _, err := h.sessions.Activate(sess.UserID, params)
	if err != nil {
		response.Error(c, err)
		return
	}
	wait, _ := strconv.ParseBool(c.Query("wait"))
	if !wait {
		response.JSON(c, http.StatusAccepted, session.Snapshot(), nil)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), maxSessionWait)
	defer cancel()
	snap, err := session.Wait(ctx)
	if err != nil {
		response.JSON(c, http.StatusAccepted, snap, nil)
		return
	}
	response.JSON(c, http.StatusOK, snap, nil)
}

// GetSession godoc
// @Summary Read the report session
// @Tags Reports
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /reports/session [get]
func (h *ReportHandler) GetSession(c *gin.Context) {
	sess := requireSession(c)
	if sess == nil {
		return
	}
	session, ok := h.sessions.Get(sess.UserID)
	if !ok {
		response.JSON(c, http.StatusOK, dto.ReportSessionSnapshot{State: service.SessionIdle}, nil)
		return
	}
	response.JSON(c, http.StatusOK, session.Snapshot(), nil)
}

// DeleteSession godoc
// @Summary Close the report session
// @Tags Reports
// @Success 204
// @Router /reports/session [delete]
func (h *ReportHandler) DeleteSession(c *gin.Context) {
	sess := requireSession(c)
	if sess == nil {
		return
	}
	h.sessions.Remove(sess.UserID)
	response.NoContent(c)
}
