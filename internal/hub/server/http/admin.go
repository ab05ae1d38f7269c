package http

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/autopeer-io/adfleet/internal/hub/core/model"
	"github.com/autopeer-io/adfleet/internal/hub/presence"
	"github.com/autopeer-io/adfleet/internal/pkg/util"
)

func (s *Server) getPresence(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Presence())
}

func (s *Server) fleetStream(w http.ResponseWriter, r *http.Request) {
	s.serveEventStream(w, r, s.svc.ObserveFleet)
}

func (s *Server) fleetWebSocket(w http.ResponseWriter, r *http.Request) {
	s.serveWebSocket(w, r, s.svc.ObserveFleet)
}

func (s *Server) deviceLogStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.serveEventStream(w, r, func(st presence.Stream) *presence.Subscription {
		return s.svc.ObserveDevice(id, st)
	})
}

func (s *Server) deviceLogWebSocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.serveWebSocket(w, r, func(st presence.Stream) *presence.Subscription {
		return s.svc.ObserveDevice(id, st)
	})
}

func (s *Server) getPlayback(w http.ResponseWriter, r *http.Request) {
	cmd, err := s.svc.PlaybackState(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

type campaignsRequest struct {
	CampaignIDs []string `json:"campaignIds"`
}

func (s *Server) putVehicleCampaigns(w http.ResponseWriter, r *http.Request) {
	var req campaignsRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.AssignVehicleCampaigns(r.Context(), mux.Vars(r)["id"], req.CampaignIDs); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) putDeviceCampaigns(w http.ResponseWriter, r *http.Request) {
	var req campaignsRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.AssignDeviceCampaigns(r.Context(), mux.Vars(r)["id"], req.CampaignIDs); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type pairRequest struct {
	DeviceID string           `json:"deviceId"`
	Role     model.DeviceRole `json:"role"`
}

func (s *Server) pairDevice(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.DeviceID == "" {
		s.writeError(w, r, fmt.Errorf("deviceId is required: %w", util.ErrInvalidArgument))
		return
	}
	if err := s.svc.PairDevice(r.Context(), mux.Vars(r)["id"], req.DeviceID, req.Role); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) unpairDevice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.svc.UnpairDevice(r.Context(), vars["id"], vars["deviceId"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) deleteVehicle(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteVehicle(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
