package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/domrelay/domrelay/internal/orchestrator"
	"github.com/domrelay/domrelay/internal/pkg/util"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

func (h *handler) registerDevice(w http.ResponseWriter, r *http.Request) {
	var req v1.RegisterDeviceRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	claims := claimsFrom(r.Context())
	if claims.IsDevice() && claims.DeviceID != req.DeviceID {
		h.fail(w, r, util.Validationf("device token for %q cannot register %q", claims.DeviceID, req.DeviceID))
		return
	}

	resp, err := h.svc.RegisterDevice(r.Context(), claims.UserID(), &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("Device registered", "device", req.DeviceID, "status", resp.Status, "version", req.Version)
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) listDevices(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	items, err := h.svc.ListDevices(r.Context(), claims.UserID())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]v1.Device, 0, len(items))
	for _, d := range items {
		if !claims.IsDevice() || d.ID == claims.DeviceID {
			out = append(out, d)
		}
	}
	writeJSON(w, http.StatusOK, v1.DeviceList{Items: out})
}

func (h *handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	if _, err := h.ownedDevice(r); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.Heartbeat(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) refreshToken(w http.ResponseWriter, r *http.Request) {
	device, err := h.ownedDevice(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp, err := h.svc.RefreshToken(r.Context(), claimsFrom(r.Context()).UserID(), device.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) intent(w http.ResponseWriter, r *http.Request) {
	if h.intents == nil {
		h.fail(w, r, util.ErrUnavailable)
		return
	}
	var req v1.IntentRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	claims := claimsFrom(r.Context())
	device, err := h.svc.GetDevice(r.Context(), req.DeviceID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !visible(claims, device.UserID, device.ID) {
		h.fail(w, r, util.UnknownDevice(req.DeviceID))
		return
	}

	resp, err := h.intents.Handle(r.Context(), orchestrator.Intent{
		UserID:       claims.UserID(),
		DeviceID:     device.ID,
		Message:      req.Message,
		Capabilities: device.Capabilities,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) ownedDevice(r *http.Request) (*v1.Device, error) {
	device, err := h.svc.GetDevice(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		return nil, err
	}
	if !visible(claimsFrom(r.Context()), device.UserID, device.ID) {
		return nil, util.ErrNotFound
	}
	return device, nil
}
