package executor

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

const (
	defaultPressDuration = 0.1
	defaultDragDuration  = 0.5
	maxBodyBytes         = 1 << 20
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthResponse{Status: StatusHealthy, Timestamp: time.Now().UTC()})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	resp, err := s.game.Start(r.Context())
	if err != nil {
		s.logger.Error("Failed to start game", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	resp, err := s.game.Stop(r.Context())
	if err != nil {
		s.logger.Error("Failed to stop game", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAutoStart(w http.ResponseWriter, r *http.Request) {
	req := AutoStartRequest{Deck: "b_red", Stake: 1}
	if err := decodeBody(r, &req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	doc := AutoStartFile{AutoStart: true, Deck: req.Deck, Stake: req.Stake, Seed: req.Seed}
	if doc.Seed == "" {
		doc.Seed = "random"
	}

	data, err := json.Marshal(doc)
	if err != nil {
		s.respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := os.WriteFile(s.cfg.AutoStartFile, data, 0o644); err != nil {
		s.respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Error: %v", err))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": StatusSuccess, "config": doc})
}

func (s *Server) handleModStatus(w http.ResponseWriter, _ *http.Request) {
	data, err := os.ReadFile(s.cfg.ModStatusFile)
	if errors.Is(err, os.ErrNotExist) {
		s.respondJSON(w, http.StatusOK, map[string]string{"status": StatusNoStatus})
		return
	}
	if err != nil {
		s.respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Error: %v", err))
		return
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		s.respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Error: malformed mod status: %v", err))
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handlePress(w http.ResponseWriter, r *http.Request) {
	req := PressRequest{Buttons: string(ButtonA), Duration: defaultPressDuration}
	if err := decodeBody(r, &req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	buttons, err := ParseButtons(req.Buttons)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.StepID == "" {
		req.StepID = uuid.NewString()
	}

	release, err := s.acquireInput(r.Context())
	if err != nil {
		s.respondWithError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer release()

	rec := ActionRecord{StepID: req.StepID, Kind: "press", Buttons: make([]string, len(buttons)), Timestamp: time.Now().UTC(), Success: true}
	for i, b := range buttons {
		rec.Buttons[i] = string(b)
	}

	var pressErr error
	for i, b := range buttons {
		if i > 0 {
			if pressErr = sleepCtx(r.Context(), s.cfg.ButtonPause); pressErr != nil {
				break
			}
		}
		if pressErr = s.device.PressButton(r.Context(), b, seconds(req.Duration)); pressErr != nil {
			break
		}
	}
	if pressErr != nil {
		rec.Success, rec.Error = false, pressErr.Error()
	}
	s.actions.Record(rec)

	if pressErr != nil {
		s.logger.Warn("Button press failed", zap.String("buttons", req.Buttons), zap.Error(pressErr))
		s.respondWithError(w, http.StatusInternalServerError, pressErr.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, StatusResponse{Status: StatusSuccess, Message: strings.Join(rec.Buttons, " ") + " pressed"})
}

func (s *Server) handleListActions(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"actions": s.actions.List()})
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.actions.Get(chi.URLParam(r, "stepID"))
	if !ok {
		s.respondWithError(w, http.StatusNotFound, "step id not found")
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	req := ClickRequest{Clicks: 1}
	if err := decodeBody(r, &req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	button, err := normalizeMouseButton(req.Button)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Clicks < 1 {
		req.Clicks = 1
	}

	s.pointerAction(w, r, "click", fmt.Sprintf("(%d, %d) %s x%d", req.X, req.Y, button, req.Clicks), func() error {
		return s.device.Click(r.Context(), req.X, req.Y, button, req.Clicks)
	}, fmt.Sprintf("Clicked at pixel coordinates (%d, %d) with %s button %d time(s)", req.X, req.Y, button, req.Clicks))
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.pointerAction(w, r, "move", fmt.Sprintf("(%d, %d)", req.X, req.Y), func() error {
		return s.device.Move(r.Context(), req.X, req.Y, seconds(req.Duration))
	}, fmt.Sprintf("Moved mouse to pixel coordinates (%d, %d)", req.X, req.Y))
}

func (s *Server) handleDrag(w http.ResponseWriter, r *http.Request) {
	req := DragRequest{Duration: defaultDragDuration}
	if err := decodeBody(r, &req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	button, err := normalizeMouseButton(req.Button)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, to := Point{X: req.StartX, Y: req.StartY}, Point{X: req.EndX, Y: req.EndY}
	detail := fmt.Sprintf("(%d, %d) -> (%d, %d) %s", from.X, from.Y, to.X, to.Y, button)
	s.pointerAction(w, r, "drag", detail, func() error {
		return s.device.Drag(r.Context(), from, to, seconds(req.Duration), button)
	}, fmt.Sprintf("Dragged from pixel coordinates (%d, %d) to (%d, %d) with %s button", from.X, from.Y, to.X, to.Y, button))
}

// pointerAction runs one pointer operation under the input lock, records it
// and answers with the status envelope.
func (s *Server) pointerAction(w http.ResponseWriter, r *http.Request, kind, detail string, op func() error, okMessage string) {
	release, err := s.acquireInput(r.Context())
	if err != nil {
		s.respondWithError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer release()

	rec := ActionRecord{StepID: uuid.NewString(), Kind: kind, Detail: detail, Timestamp: time.Now().UTC(), Success: true}
	opErr := op()
	if opErr != nil {
		rec.Success, rec.Error = false, opErr.Error()
	}
	s.actions.Record(rec)

	if opErr != nil {
		s.logger.Warn("Pointer action failed", zap.String("kind", kind), zap.Error(opErr))
		s.respondWithError(w, http.StatusInternalServerError, opErr.Error())
		return
	}

	resp := StatusResponse{Status: StatusSuccess, Message: okMessage}
	if size, err := s.device.ScreenSize(r.Context()); err == nil {
		resp.ScreenSize = &size
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	pos, err := s.device.PointerPosition(r.Context())
	if err != nil {
		s.respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	size, err := s.device.ScreenSize(r.Context())
	if err != nil {
		s.respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, PointerPosition{Position: pos, ScreenSize: size})
}

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	img, err := s.device.Screenshot(r.Context())
	if err != nil {
		s.respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Screenshot error: %v", err))
		return
	}

	if c := r.URL.Query().Get("cursor"); c == "1" || c == "true" {
		pos, err := s.device.PointerPosition(r.Context())
		if err != nil {
			// Unknown position: the marker lands on the origin.
			s.logger.Debug("Pointer position unavailable for overlay", zap.Error(err))
		}
		img, err = DrawCursor(img, pos)
		if err != nil {
			s.respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Screenshot with cursor error: %v", err))
			return
		}
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(img); err != nil {
		s.logger.Debug("Failed to write screenshot", zap.Error(err))
	}
}

// handleActionFeed streams new action records over a websocket.
func (s *Server) handleActionFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	records, unsubscribe := s.actions.Subscribe(64)
	defer unsubscribe()

	// The reader only watches for the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case rec, ok := <-records:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(rec); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, StatusResponse{Status: StatusError, Message: message})
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
