package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/homebus/internal/controller"
	"github.com/nerrad567/homebus/internal/correlator"
	"github.com/nerrad567/homebus/internal/device"
)

// resultResponse is the JSON form of a controller.Result.
type resultResponse struct {
	DeviceID  string `json:"device_id"`
	Kind      string `json:"kind"`
	Verb      string `json:"verb"`
	State     string `json:"state"`
	Reply     string `json:"reply,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

func toResultResponse(res controller.Result) resultResponse {
	out := resultResponse{
		DeviceID:  res.DeviceID,
		Kind:      string(res.Kind),
		Verb:      res.Verb,
		State:     string(res.State),
		Reply:     res.Reply,
		LatencyMS: res.Latency.Milliseconds(),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

// readingResponse is the JSON form of a cached reading.
type readingResponse struct {
	DeviceID   string    `json:"device_id"`
	Kind       string    `json:"kind"`
	Payload    string    `json:"payload"`
	Value      *float64  `json:"value,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// verbRequest is the optional body of request and broadcast calls.
type verbRequest struct {
	Verb string `json:"verb"`
}

// handleListDevices returns all devices, optionally filtered by ?kind=.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.ctrl.ListDevices()

	if kindStr := r.URL.Query().Get("kind"); kindStr != "" {
		kind, err := device.ParseKind(kindStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filtered := make([]device.Device, 0, len(devices))
		for _, dev := range devices {
			if dev.Kind == kind {
				filtered = append(filtered, dev)
			}
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleAddDevice registers a device of the given kind.
func (s *Server) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kind string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	dev, err := s.ctrl.AddDevice(r.Context(), body.Kind)
	if err != nil {
		if errors.Is(err, device.ErrInvalidKind) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to add device")
		return
	}

	writeJSON(w, http.StatusCreated, dev)
}

// handleRemoveDevice unregisters a device.
func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.ctrl.RemoveDevice(r.Context(), id); err != nil {
		if errors.Is(err, controller.ErrUnknownDevice) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to remove device")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleGetReading returns the last value the device published.
func (s *Server) handleGetReading(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	reading, ok := s.ctrl.LastReading(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no reading for device")
		return
	}

	resp := readingResponse{
		DeviceID:   reading.DeviceID,
		Kind:       string(reading.Kind),
		Payload:    reading.Payload,
		ReceivedAt: reading.ReceivedAt,
	}
	if reading.Numeric {
		v := reading.Value
		resp.Value = &v
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRequest sends a request verb to one device and waits for the reply.
// An empty verb sends the kind's default request.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	verb, ok := decodeVerb(w, r)
	if !ok {
		return
	}

	dev, found := s.findDevice(id)
	if !found {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	if verb == "" {
		verb = device.DefaultRequest(dev.Kind)
	}

	res, err := s.ctrl.Request(r.Context(), dev.Kind, id, verb)
	writeJSON(w, statusForRequest(err), toResultResponse(res))
}

// handleBroadcast sends a request verb to every device of a kind.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	kind, err := device.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	verb, ok := decodeVerb(w, r)
	if !ok {
		return
	}
	if verb == "" {
		verb = device.DefaultRequest(kind)
	}
	if !device.ValidRequest(verb) {
		writeError(w, http.StatusBadRequest, "unknown request verb")
		return
	}

	results := s.ctrl.BroadcastToKind(r.Context(), kind, verb)
	out := make([]resultResponse, len(results))
	for i, res := range results {
		out[i] = toResultResponse(res)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out, "count": len(out)})
}

// decodeVerb reads the optional {"verb": ...} body. An empty body is allowed.
func decodeVerb(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body verbRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return "", false
	}
	return body.Verb, true
}

func (s *Server) findDevice(id string) (device.Device, bool) {
	for _, dev := range s.ctrl.ListDevices() {
		if dev.ID == id {
			return dev, true
		}
	}
	return device.Device{}, false
}

// statusForRequest maps a request outcome to an HTTP status.
func statusForRequest(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, controller.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, controller.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, correlator.ErrAlreadyAwaiting):
		return http.StatusConflict
	case errors.Is(err, correlator.ErrTimedOut):
		return http.StatusGatewayTimeout
	case errors.Is(err, controller.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, correlator.ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
