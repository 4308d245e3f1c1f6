package handlers

import (
	"net/http"
	"strings"

	"livepoll/services"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// PasswordHeader carries the poll password on fetch and management calls.
const PasswordHeader = "x-poll-password"

type PollHandler struct {
	pollService *services.PollService
	hub         *services.Hub
}

func NewPollHandler(pollService *services.PollService, hub *services.Hub) *PollHandler {
	RegisterValidators()
	return &PollHandler{
		pollService: pollService,
		hub:         hub,
	}
}

func (h *PollHandler) CreatePoll(c *gin.Context) {
	var req services.CreatePollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingMessage(err)})
		return
	}

	resp, err := h.pollService.CreatePoll(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *PollHandler) GetPollByJoinCode(c *gin.Context) {
	joinCode := c.Param("joinCode")

	poll, err := h.pollService.GetPollByJoinCode(c.Request.Context(), joinCode, c.GetHeader(PasswordHeader))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, poll)
}

func (h *PollHandler) SetActiveQuestion(c *gin.Context) {
	pollID := c.Param("pollId")

	var req services.SetActiveQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingMessage(err)})
		return
	}

	creds := services.Credentials{
		Password: c.GetHeader(PasswordHeader),
		Token:    bearerToken(c),
	}

	if err := h.pollService.SetActiveQuestion(c.Request.Context(), pollID, req.QuestionID, creds); err != nil {
		respondError(c, err)
		return
	}

	if h.hub != nil {
		h.hub.PublishActiveQuestionChange(c.Request.Context(), pollID, req.QuestionID)
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case services.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrPollNotFound), errors.Is(err, services.ErrQuestionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrUnauthorized):
		status = http.StatusForbidden
	default:
		log.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	}

	c.JSON(status, gin.H{"error": err.Error()})
}
