package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openclass/quiz-session-service/internal/repositories"
	"github.com/openclass/quiz-session-service/internal/services"
	"github.com/openclass/quiz-session-service/internal/ticket"
	"github.com/openclass/quiz-session-service/internal/utils"
)

type SessionHandler struct {
	BaseHandler
	sessionService services.SessionService
}

func NewSessionHandler(sessionService services.SessionService, logger utils.Logger) *SessionHandler {
	return &SessionHandler{
		BaseHandler:    NewBaseHandler(logger),
		sessionService: sessionService,
	}
}

// IssueSession opens a timed quiz session for the authenticated user
// @Summary Issue session
// @Description Issues a signed session ticket plus the answer-stripped quiz
// @Tags sessions
// @Accept json
// @Produce json
// @Param session body services.IssueSessionRequest true "Session request"
// @Success 200 {object} services.SessionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions [post]
func (h *SessionHandler) IssueSession(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	var req services.IssueSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	h.LogRequest(c, "Issuing session", "quiz_id", req.QuizID)

	resp, err := h.sessionService.Issue(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// SubmitSession grades a session submission
// @Summary Submit session
// @Description Validates the ticket, grades the answers and records the attempt
// @Tags sessions
// @Accept json
// @Produce json
// @Param submission body services.SubmitSessionRequest true "Submission"
// @Success 200 {object} services.SubmitResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /sessions/submit [post]
func (h *SessionHandler) SubmitSession(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	var req services.SubmitSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	h.LogRequest(c, "Submitting session",
		"quiz_id", req.QuizID,
		"answers_count", len(req.Answers))

	resp, err := h.sessionService.Submit(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ListAttempts returns the user's attempt history
// @Summary List attempts
// @Description Lists the authenticated user's graded attempts
// @Tags attempts
// @Produce json
// @Param quiz_id query uint false "Filter by quiz"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} services.HistoryResponse
// @Failure 400 {object} ErrorResponse
// @Router /attempts [get]
func (h *SessionHandler) ListAttempts(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	filters, err := parseAttemptFilters(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid query parameters",
			Details: err.Error(),
		})
		return
	}

	resp, err := h.sessionService.History(c.Request.Context(), userID, filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ExportAttempts downloads the user's attempt history as an XLSX workbook
// @Summary Export attempts
// @Description Exports the authenticated user's full attempt history
// @Tags attempts
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Success 200 {file} binary
// @Router /attempts/export [get]
func (h *SessionHandler) ExportAttempts(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Exporting attempt history")

	data, err := h.sessionService.ExportHistory(c.Request.Context(), userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	filename := fmt.Sprintf("attempts_%s.xlsx", time.Now().Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func (h *SessionHandler) requireUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return "", false
	}
	id, ok := userID.(string)
	if !ok || id == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return "", false
	}
	return id, true
}

func parseAttemptFilters(c *gin.Context) (repositories.AttemptFilters, error) {
	filters := repositories.AttemptFilters{
		SortBy:    c.DefaultQuery("sort_by", "created_at"),
		SortOrder: c.DefaultQuery("sort_order", "desc"),
	}

	if quizIDStr := c.Query("quiz_id"); quizIDStr != "" {
		quizID, err := strconv.ParseUint(quizIDStr, 10, 32)
		if err != nil {
			return filters, fmt.Errorf("invalid quiz_id: %q", quizIDStr)
		}
		id := uint(quizID)
		filters.QuizID = &id
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			return filters, fmt.Errorf("invalid limit: %q", limitStr)
		}
		filters.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return filters, fmt.Errorf("invalid offset: %q", offsetStr)
		}
		filters.Offset = offset
	}

	if fromStr := c.Query("date_from"); fromStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return filters, fmt.Errorf("invalid date_from: %q", fromStr)
		}
		filters.DateFrom = &from
	}

	if toStr := c.Query("date_to"); toStr != "" {
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return filters, fmt.Errorf("invalid date_to: %q", toStr)
		}
		filters.DateTo = &to
	}

	return filters, nil
}

func (h *SessionHandler) handleServiceError(c *gin.Context, err error) {
	// Ticket rejections carry their reason so clients can distinguish an
	// expired session from a forged or mismatched ticket.
	switch {
	case errors.Is(err, ticket.ErrMalformed),
		errors.Is(err, ticket.ErrSignature),
		errors.Is(err, ticket.ErrExpired),
		errors.Is(err, ticket.ErrMismatch):
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "Session ticket rejected",
			Code:    string(ticket.ReasonFor(err)),
		})
		return
	case errors.Is(err, services.ErrTicketReplayed):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Session ticket already used",
			Code:    "replayed",
		})
		return
	}

	var permissionError *services.PermissionError
	if errors.As(err, &permissionError) {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Access denied",
			Details: map[string]interface{}{
				"resource": permissionError.Resource,
				"action":   permissionError.Action,
				"reason":   permissionError.Reason,
			},
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrValidationFailed):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: err.Error(),
		})
	case services.IsNotFound(err):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Resource not found",
			Details: err.Error(),
		})
	case services.IsForbidden(err):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Access denied",
			Details: err.Error(),
		})
	case errors.Is(err, services.ErrQuizHasNoQuestions):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Message: "Quiz has no questions",
		})
	case errors.Is(err, services.ErrSubmissionFailed):
		h.LogError(c, err, "Submission failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Submission could not be recorded, please retry",
			Code:    "submission_failed",
		})
	default:
		h.LogError(c, err, "Unhandled service error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}
