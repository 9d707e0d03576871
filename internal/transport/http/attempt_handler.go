package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// AttemptHandler serves POST /attempts.
type AttemptHandler struct {
	service  *app.AttemptService
	log      *slog.Logger
	validate *validator.Validate
}

func NewAttemptHandler(service *app.AttemptService, logger *slog.Logger) *AttemptHandler {
	return &AttemptHandler{service: service, log: logger, validate: validator.New()}
}

type startAttemptRequest struct {
	QuizID    string `json:"quizId" validate:"required"`
	StudentID string `json:"studentId" validate:"required"`
}

type attemptResponse struct {
	AttemptID     string               `json:"attemptId"`
	QuizID        string               `json:"quizId"`
	StudentID     string               `json:"studentId"`
	Status        domain.AttemptStatus `json:"status"`
	StartedAt     time.Time            `json:"startedAt"`
	Deadline      *time.Time           `json:"deadline,omitempty"`
	QuestionOrder []string             `json:"questionOrder"`
}

func (h *AttemptHandler) StartAttempt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req startAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := h.service.StartAttempt(r.Context(), req.QuizID, req.StudentID)
	if err != nil {
		if !app.IsClientError(err) {
			h.log.Error("start attempt failed", "quiz_id", req.QuizID, "error", err)
		}
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(attemptResponse{
		AttemptID:     rec.ID,
		QuizID:        rec.QuizID,
		StudentID:     rec.StudentID,
		Status:        rec.Status,
		StartedAt:     rec.StartedAt,
		Deadline:      rec.Deadline,
		QuestionOrder: rec.QuestionOrder,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAttemptNotFound), errors.Is(err, domain.ErrQuizNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAlreadySubmitted), errors.Is(err, domain.ErrAttemptBusy):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	http.Error(w, msg, status)
}
