package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/geeny-gateway/internal/device"
	"github.com/nerrad567/geeny-gateway/internal/gateway"
	"github.com/nerrad567/geeny-gateway/internal/thing"
)

// maxScanTimeout bounds the scan duration a client may ask for.
const maxScanTimeout = time.Minute

// scanRequest is the request body for POST /scan. All fields are optional.
type scanRequest struct {
	TimeoutMS      int  `json:"timeout_ms"`
	OnlyNative     bool `json:"only_native"`
	OmitRegistered bool `json:"omit_registered"`
}

// registerRequest is the request body for POST /things/{peripheralId}/register.
type registerRequest struct {
	Name string `json:"name"`
}

// updateThingRequest is the request body for PATCH /things/{peripheralId}.
// Absent fields are left unchanged.
type updateThingRequest struct {
	AutoPublish   *bool   `json:"auto_publish"`
	UserGivenName *string `json:"user_given_name"`
}

// thingView is a registered thing as reported by the API.
type thingView struct {
	device.Info
	Connected     bool     `json:"connected"`
	Physical      bool     `json:"physical"`
	Publishing    []string `json:"publishing"`
	Subscriptions []string `json:"subscriptions"`
}

func viewOf(t *thing.Thing, connected bool) thingView {
	return thingView{
		Info:          t.Info(),
		Connected:     connected,
		Physical:      t.IsPhysical(),
		Publishing:    t.Publishing(),
		Subscriptions: t.Subscriptions(),
	}
}

// handleScan scans for nearby things and returns them.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeOptional(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.TimeoutMS < 0 {
		writeBadRequest(w, "timeout_ms must not be negative")
		return
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	if timeout == 0 {
		timeout = s.scanTimeout
	}
	if timeout > maxScanTimeout {
		writeBadRequest(w, "timeout_ms exceeds one minute")
		return
	}

	things, err := s.gw.ScanForThings(r.Context(), gateway.ScanOptions{
		Timeout:        timeout,
		OnlyNative:     req.OnlyNative,
		OmitRegistered: req.OmitRegistered,
	})
	if err != nil {
		s.writeGatewayError(w, r, "scan", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"things": things, "count": len(things)})
}

// handleListThings returns every registered thing.
func (s *Server) handleListThings(w http.ResponseWriter, _ *http.Request) {
	things := s.gw.RegisteredThings()
	views := make([]thingView, 0, len(things))
	for _, t := range things {
		views = append(views, viewOf(t, s.gw.IsThingConnected(t.Info())))
	}
	writeJSON(w, http.StatusOK, map[string]any{"things": views, "count": len(views)})
}

// handleGetThing returns the best known description of a peripheral.
func (s *Server) handleGetThing(w http.ResponseWriter, r *http.Request) {
	info, err := s.gw.ThingInfo(chi.URLParam(r, "peripheralId"))
	if err != nil {
		s.writeGatewayError(w, r, "get thing", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thing":     info,
		"connected": s.gw.IsThingConnected(info),
	})
}

// handleConnectThing connects to a peripheral and discovers its
// characteristics. Peripherals not seen by a scan are connected by id.
func (s *Server) handleConnectThing(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "peripheralId")

	info, err := s.gw.ThingInfo(id)
	if errors.Is(err, gateway.ErrUnknownThing) {
		info = device.NewInfo(device.FamilyPhysical, "", id, false)
	} else if err != nil {
		s.writeGatewayError(w, r, "connect", err)
		return
	}

	discovered, err := s.gw.ConnectAndDiscover(r.Context(), info)
	if err != nil {
		s.writeGatewayError(w, r, "connect", err)
		return
	}
	writeJSON(w, http.StatusOK, discovered)
}

// handleRegisterThing registers a discovered native thing with the cloud.
func (s *Server) handleRegisterThing(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}

	info, err := s.gw.ThingInfo(chi.URLParam(r, "peripheralId"))
	if err != nil {
		s.writeGatewayError(w, r, "register", err)
		return
	}

	t, err := s.gw.RegisterThing(r.Context(), req.Name, info)
	if err != nil {
		s.writeGatewayError(w, r, "register", err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(t, s.gw.IsThingConnected(info)))
}

// handleUpdateThing changes the user given name or auto-publish flag of a
// registered thing.
func (s *Server) handleUpdateThing(w http.ResponseWriter, r *http.Request) {
	var req updateThingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	info, err := s.gw.ThingInfo(chi.URLParam(r, "peripheralId"))
	if err != nil {
		s.writeGatewayError(w, r, "update thing", err)
		return
	}

	updated := info.With(device.Update{
		AutoPublish:   req.AutoPublish,
		UserGivenName: req.UserGivenName,
	})
	if err := s.gw.UpdateThing(r.Context(), updated); err != nil {
		s.writeGatewayError(w, r, "update thing", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// decodeOptional decodes a JSON body into v. An empty body leaves v as is.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
