package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/beacon-fence-core/internal/beacon"
)

// platformJSON is the wire form of beacon.PlatformSettings.
type platformJSON struct {
	Kind                      string   `json:"kind"`
	InitialTriggers           []string `json:"initial_triggers,omitempty"`
	InitialTrigger            bool     `json:"initial_trigger,omitempty"`
	NotifyEntryStateOnDisplay bool     `json:"notify_entry_state_on_display,omitempty"`
}

// createBeaconRequest is the body of POST /api/v1/beacons.
type createBeaconRequest struct {
	ID             string        `json:"id"`
	UUID           string        `json:"uuid"`
	Major          *uint16       `json:"major,omitempty"`
	Minor          *uint16       `json:"minor,omitempty"`
	Triggers       []string      `json:"triggers"`
	CallbackHandle int64         `json:"callback_handle"`
	Platform       *platformJSON `json:"platform,omitempty"`
}

// beaconResponse is the JSON form of beacon.ActiveBeacon.
type beaconResponse struct {
	ID       string        `json:"id"`
	UUID     string        `json:"uuid"`
	Major    *uint16       `json:"major,omitempty"`
	Minor    *uint16       `json:"minor,omitempty"`
	RSSI     *int          `json:"rssi"`
	Triggers []string      `json:"triggers"`
	Platform *platformJSON `json:"platform,omitempty"`
}

// scannerSettingsRequest is the body of PUT /api/v1/scanner.
type scannerSettingsRequest struct {
	ForegroundScanPeriodMS        int64  `json:"foreground_scan_period_ms"`
	ForegroundBetweenScanPeriodMS int64  `json:"foreground_between_scan_period_ms"`
	BackgroundScanPeriodMS        int64  `json:"background_scan_period_ms"`
	BackgroundBetweenScanPeriodMS int64  `json:"background_between_scan_period_ms"`
	UseForegroundService          bool   `json:"use_foreground_service"`
	NotificationTitle             string `json:"notification_title,omitempty"`
	NotificationContent           string `json:"notification_content,omitempty"`
}

type initializeRequest struct {
	DispatcherHandle int64 `json:"dispatcher_handle"`
}

func (s *Server) handleListBeacons(w http.ResponseWriter, r *http.Request) {
	active, err := s.fences.Beacons(r.Context())
	if err != nil {
		writeFenceError(w, err)
		return
	}
	out := make([]beaconResponse, len(active))
	for i, b := range active {
		out[i] = toBeaconResponse(b)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"beacons": out,
		"count":   len(out),
	})
}

func (s *Server) handleListBeaconIDs(w http.ResponseWriter, r *http.Request) {
	ids, err := s.fences.BeaconIDs(r.Context())
	if err != nil {
		writeFenceError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ids": ids})
}

func (s *Server) handleCreateBeacon(w http.ResponseWriter, r *http.Request) {
	var req createBeaconRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	def, err := req.toDefinition()
	if err != nil {
		writeFenceError(w, err)
		return
	}
	if err := s.fences.CreateBeacon(r.Context(), def); err != nil {
		writeFenceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": def.ID})
}

func (s *Server) handleRemoveBeacon(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.fences.RemoveBeaconByID(r.Context(), id); err != nil {
		writeFenceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveAllBeacons(w http.ResponseWriter, r *http.Request) {
	if err := s.fences.RemoveAllBeacons(r.Context()); err != nil {
		writeFenceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConfigureScanner(w http.ResponseWriter, r *http.Request) {
	var req scannerSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := s.fences.ConfigureScanner(r.Context(), req.toSettings()); err != nil {
		writeFenceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := s.fences.Initialize(r.Context(), req.DispatcherHandle); err != nil {
		writeFenceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (req createBeaconRequest) toDefinition() (beacon.Definition, error) {
	triggers, err := parseTriggers(req.Triggers)
	if err != nil {
		return beacon.Definition{}, err
	}
	def := beacon.Definition{
		ID:         req.ID,
		UUID:       req.UUID,
		Major:      req.Major,
		Minor:      req.Minor,
		Triggers:   triggers,
		CallbackID: req.CallbackHandle,
	}
	if req.Platform != nil {
		switch beacon.Platform(req.Platform.Kind) {
		case beacon.PlatformAndroid:
			initial, err := parseTriggers(req.Platform.InitialTriggers)
			if err != nil {
				return beacon.Definition{}, err
			}
			def.Platform = beacon.AndroidSettings{InitialTriggers: initial}
		case beacon.PlatformIOS:
			def.Platform = beacon.IOSSettings{
				InitialTrigger:            req.Platform.InitialTrigger,
				NotifyEntryStateOnDisplay: req.Platform.NotifyEntryStateOnDisplay,
			}
		case beacon.PlatformNone:
		default:
			return beacon.Definition{}, fmt.Errorf("%w: unknown platform %q", beacon.ErrInvalidDefinition, req.Platform.Kind)
		}
	}
	return def, nil
}

func (req scannerSettingsRequest) toSettings() beacon.ScannerSettings {
	return beacon.ScannerSettings{
		ForegroundScanPeriod:        time.Duration(req.ForegroundScanPeriodMS) * time.Millisecond,
		ForegroundBetweenScanPeriod: time.Duration(req.ForegroundBetweenScanPeriodMS) * time.Millisecond,
		BackgroundScanPeriod:        time.Duration(req.BackgroundScanPeriodMS) * time.Millisecond,
		BackgroundBetweenScanPeriod: time.Duration(req.BackgroundBetweenScanPeriodMS) * time.Millisecond,
		UseForegroundService:        req.UseForegroundService,
		Notification: beacon.NotificationSettings{
			Title:   req.NotificationTitle,
			Content: req.NotificationContent,
		},
	}
}

func parseTriggers(names []string) ([]beacon.Event, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]beacon.Event, 0, len(names))
	for _, n := range names {
		e, ok := beacon.ParseEvent(n)
		if !ok {
			return nil, fmt.Errorf("%w: unknown trigger %q", beacon.ErrInvalidDefinition, n)
		}
		out = append(out, e)
	}
	return out, nil
}

func eventNames(events []beacon.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.String()
	}
	return out
}

// toBeaconResponse renders the read view. It also shapes live feed payloads.
func toBeaconResponse(b beacon.ActiveBeacon) beaconResponse {
	resp := beaconResponse{
		ID:       b.ID,
		UUID:     b.UUID,
		Major:    b.Major,
		Minor:    b.Minor,
		RSSI:     b.RSSI,
		Triggers: eventNames(b.Triggers),
	}
	switch p := b.Platform.(type) {
	case beacon.AndroidSettings:
		resp.Platform = &platformJSON{Kind: string(beacon.PlatformAndroid), InitialTriggers: eventNames(p.InitialTriggers)}
	case beacon.IOSSettings:
		resp.Platform = &platformJSON{
			Kind:                      string(beacon.PlatformIOS),
			InitialTrigger:            p.InitialTrigger,
			NotifyEntryStateOnDisplay: p.NotifyEntryStateOnDisplay,
		}
	}
	return resp
}
