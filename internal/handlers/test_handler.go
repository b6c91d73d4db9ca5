package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/learnsphere/test-engine/internal/services"
	"github.com/learnsphere/test-engine/internal/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type TestHandler struct {
	BaseHandler
	statsService  services.StatsService
	reportService services.ReportService
}

func NewTestHandler(
	statsService services.StatsService,
	reportService services.ReportService,
	logger utils.Logger,
) *TestHandler {
	return &TestHandler{
		BaseHandler:   NewBaseHandler(logger),
		statsService:  statsService,
		reportService: reportService,
	}
}

// GetStats returns the aggregate statistics of a test
// @Summary Get test statistics
// @Tags tests
// @Produce json
// @Param id path uint true "Test ID"
// @Success 200 {object} services.TestStatsResponse
// @Failure 404 {object} ErrorResponse
// @Router /tests/{id}/stats [get]
func (h *TestHandler) GetStats(c *gin.Context) {
	testID := h.parseIDParam(c, "id")
	if testID == 0 {
		return
	}

	h.LogRequest(c, "Getting test stats", "test_id", testID)

	stats, err := h.statsService.GetTestStats(c.Request.Context(), testID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// ExportReport streams the test's finalized results as a workbook
// @Summary Export test results
// @Description Exports all finalized attempts of a test as an xlsx file
// @Tags tests
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path uint true "Test ID"
// @Success 200 {file} binary
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /tests/{id}/report [get]
func (h *TestHandler) ExportReport(c *gin.Context) {
	testID := h.parseIDParam(c, "id")
	if testID == 0 {
		return
	}

	h.LogRequest(c, "Exporting test report", "test_id", testID)

	userID := h.getUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	data, filename, err := h.reportService.ExportTestResults(c.Request.Context(), testID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}
