package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/attempt"
	"quiz-attempt-service/internal/domain"
)

type WSHandler struct {
	service  *app.AttemptService
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.AttemptService, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string               `json:"questionId"`
	Answer     domain.AnswerPayload `json:"answer"`
}

type navigatePayload struct {
	Index int `json:"index"`
}

type visibilityPayload struct {
	Visible bool `json:"visible"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type announcePayload struct {
	Text string `json:"text"`
}

type errorPayload struct {
	Message string           `json:"message"`
	Kind    domain.ErrorKind `json:"kind,omitempty"`
}

func errorMessage(err error) outboundMessage[any] {
	kind, _ := domain.KindOf(err)
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error(), Kind: kind}}
}

// ServeWS upgrades HTTP requests to websockets and attaches them to a live
// attempt. Every transition is pushed as a view; accessibility
// announcements follow the view they belong to.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	attemptID := r.URL.Query().Get("attemptId")
	studentID := r.URL.Query().Get("studentId")
	if attemptID == "" || studentID == "" {
		http.Error(w, "missing attemptId or studentId", http.StatusBadRequest)
		return
	}

	ctx := domain.WithStudent(r.Context(), studentID)
	ctrl, updates, cancel, err := h.service.Subscribe(ctx, attemptID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer h.service.Leave(ctx, attemptID)
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "attempt_id", attemptID, "error", err)
		return
	}
	defer conn.Close()
	h.log.Info("attempt client connected", "attempt_id", attemptID, "student_id", studentID)

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Only this goroutine writes to conn.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", "attempt_id", attemptID, "error", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				msgs := []outboundMessage[any]{{Type: "view", Payload: update.View}}
				if update.Announcement != "" {
					msgs = append(msgs, outboundMessage[any]{Type: "announce", Payload: announcePayload{Text: update.Announcement}})
				}
				for _, msg := range msgs {
					select {
					case send <- msg:
					case <-closeSignals:
						return
					}
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if err := h.dispatch(ctrl, inbound); err != nil {
			send <- errorMessage(err)
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
	h.log.Info("attempt client disconnected", "attempt_id", attemptID)
}

var errUnsupported = errors.New("unsupported message type")

func (h *WSHandler) dispatch(ctrl *attempt.Controller, in inboundMessage) error {
	switch in.Type {
	case "answer":
		var p answerPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return fmt.Errorf("invalid answer payload: %w", err)
		}
		answer, err := p.Answer.Decode()
		if err != nil {
			return err
		}
		q, ok := ctrl.Question(p.QuestionID)
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, p.QuestionID)
		}
		if err := domain.CheckAnswer(q, answer); err != nil {
			return err
		}
		return ctrl.SetAnswer(p.QuestionID, answer)
	case "navigate":
		var p navigatePayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return fmt.Errorf("invalid navigate payload: %w", err)
		}
		ctrl.Navigate(p.Index)
	case "key":
		var ev attempt.KeyEvent
		if err := json.Unmarshal(in.Payload, &ev); err != nil {
			return fmt.Errorf("invalid key payload: %w", err)
		}
		ctrl.HandleKey(ev)
	case "visibility":
		var p visibilityPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return fmt.Errorf("invalid visibility payload: %w", err)
		}
		ctrl.OnVisibilityChange(p.Visible)
	case "openConfirm":
		_, err := ctrl.OpenConfirmDialog()
		return err
	case "cancelConfirm":
		ctrl.CancelConfirm()
	case "confirmSubmit":
		ctrl.ConfirmSubmit()
	case "acknowledgeFocus":
		ctrl.AcknowledgeFocusWarning()
	case "retrySubmit":
		ctrl.RetrySubmit()
	case "save":
		ctrl.ForceSave()
	default:
		return errUnsupported
	}
	return nil
}
