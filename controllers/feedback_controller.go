package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gent/models"
	"gent/services"
)

// SubmissionSaver stores feedback form submissions.
type SubmissionSaver interface {
	Save(ctx context.Context, sub models.Submission) (models.Submission, error)
}

type FeedbackController struct {
	store SubmissionSaver
	log   zerolog.Logger
}

func NewFeedbackController(store SubmissionSaver, log zerolog.Logger) *FeedbackController {
	return &FeedbackController{store: store, log: log.With().Str("component", "feedback").Logger()}
}

func (f *FeedbackController) SubmitFeedback(c *gin.Context) {
	if f.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Feedback storage is not configured"})
		return
	}

	var request struct {
		Name     string `json:"name" binding:"required"`
		Email    string `json:"email" binding:"required"`
		Rating   string `json:"rating" binding:"required"`
		Feedback string `json:"feedback"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	saved, err := f.store.Save(c.Request.Context(), models.Submission{
		Name:     request.Name,
		Email:    request.Email,
		Rating:   request.Rating,
		Feedback: request.Feedback,
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidSubmission) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.log.Error().Err(err).Msg("failed to save submission")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save feedback"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":        saved.ID,
		"timestamp": saved.Timestamp.Format(time.RFC3339),
	})
}

// Health reports liveness.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": services.GetCurrentTimestamp(),
	})
}
