package http

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/domrelay/domrelay/internal/pkg/auth"
	"github.com/domrelay/domrelay/internal/pkg/util"
	"github.com/domrelay/domrelay/internal/relayserver/core"
	"github.com/domrelay/domrelay/internal/relayserver/core/service"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

func (h *handler) enqueue(w http.ResponseWriter, r *http.Request) {
	var req v1.EnqueueRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	claims := claimsFrom(r.Context())
	if claims.IsDevice() && req.DeviceID != claims.DeviceID {
		h.fail(w, r, util.UnknownDevice(req.DeviceID))
		return
	}

	cmd, err := h.svc.Enqueue(r.Context(), service.EnqueueParams{
		UserID:          claims.UserID(),
		DeviceID:        req.DeviceID,
		Type:            req.Type,
		Payload:         req.Payload,
		SuccessCriteria: req.SuccessCriteria,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cmd)
}

func (h *handler) listCommands(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	claims := claimsFrom(r.Context())
	filter := core.ListFilter{
		DeviceID: q.Get("device_id"),
		UserID:   claims.UserID(),
		Status:   v1.CommandStatus(strings.ToLower(q.Get("status"))),
		ParentID: q.Get("parent_id"),
	}
	if claims.IsDevice() {
		if filter.DeviceID != "" && filter.DeviceID != claims.DeviceID {
			writeJSON(w, http.StatusOK, v1.CommandList{Items: []v1.Command{}})
			return
		}
		filter.DeviceID = claims.DeviceID
	}

	items, err := h.svc.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []v1.Command{}
	}
	writeJSON(w, http.StatusOK, v1.CommandList{Items: items})
}

func (h *handler) getCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := h.owned(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// updateCommand carries both the claim and the completion transitions.
func (h *handler) updateCommand(w http.ResponseWriter, r *http.Request) {
	var req v1.UpdateCommandRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	current, err := h.owned(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	switch req.Status {
	case v1.CommandStatusClaimed:
		cmd, err := h.svc.Claim(r.Context(), current.ID, req.AgentID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if cmd == nil {
			writeJSON(w, http.StatusConflict, v1.ErrorResponse{Code: v1.CodeClaimConflict, Message: "command is no longer pending"})
			return
		}
		writeJSON(w, http.StatusOK, cmd)

	case v1.CommandStatusDone, v1.CommandStatusFailed:
		if req.Result == nil {
			h.fail(w, r, util.Validationf("result is required to complete a command"))
			return
		}
		if req.Result.CompletionStatus() != req.Status {
			h.fail(w, r, util.Validationf("status %s contradicts result status %s", req.Status, req.Result.Status))
			return
		}
		// req.CompletedAt is not trusted; completion is stamped by the server clock.
		cmd, err := h.svc.Complete(r.Context(), current.ID, req.Result)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cmd)

	default:
		h.fail(w, r, util.Validationf("status must be claimed, done or failed, got %q", req.Status))
	}
}

func (h *handler) cancelCommand(w http.ResponseWriter, r *http.Request) {
	current, err := h.owned(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cmd, err := h.svc.Cancel(r.Context(), current.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// verdict returns the persisted verdict, deciding it first when the
// evidence is conclusive. An undecided command answers 202.
func (h *handler) verdict(w http.ResponseWriter, r *http.Request) {
	current, err := h.owned(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, decided, err := h.svc.Verdict(r.Context(), current.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !decided {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) artifactUpload(w http.ResponseWriter, r *http.Request) {
	current, err := h.owned(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp, err := h.svc.ArtifactUploadURL(r.Context(), current.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) artifactDownload(w http.ResponseWriter, r *http.Request) {
	current, err := h.owned(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp, err := h.svc.ArtifactDownloadURL(r.Context(), current.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// owned loads the command named in the path. Commands of other users or,
// for device tokens, other devices are reported as not found.
func (h *handler) owned(r *http.Request) (*v1.Command, error) {
	id := mux.Vars(r)["id"]
	cmd, err := h.svc.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if !visible(claimsFrom(r.Context()), cmd.UserID, cmd.DeviceID) {
		return nil, util.ErrNotFound
	}
	return cmd, nil
}

func visible(c *auth.Claims, userID, deviceID string) bool {
	if userID != "" && c.UserID() != "" && userID != c.UserID() {
		return false
	}
	return !c.IsDevice() || c.DeviceID == deviceID
}
