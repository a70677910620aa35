/*
Package handler provides HTTP handler functions for room creation and room state reads.
*/
package handler

import (
	"net/http"

	"textroom/internal/app/collab"
	"textroom/internal/pkg/errs"
	"textroom/internal/pkg/logx"
	"textroom/internal/pkg/randx"
	"textroom/internal/pkg/req"
	"textroom/internal/pkg/resp"

	"github.com/go-chi/chi/v5"
)

type CreateRoomInput struct {
	// Name is the human-readable room title.
	Name string `json:"name"`
	// Seed is the initial document content (optional; defaults to empty).
	Seed string `json:"seed,omitempty"`
}

// HandleCreateRoom creates an HTTP HandlerFunc to process room creation requests.
func HandleCreateRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input CreateRoomInput

		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if input.Name == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		roomCode, err := randx.RoomID()
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		room, createErr := deps.Coordinator.CreateRoom(r.Context(), roomCode, input.Name, input.Seed)
		if createErr != nil {
			resp.RespondError(w, r, createErr)
			return
		}

		data := map[string]any{
			"roomCode": room.ID,
		}
		resp.RespondSuccess(w, r, data)
	}
}

// HandleGetRoom returns the room's current state: document, last sequence,
// members, and presence. Clients call it once before opening the websocket.
func HandleGetRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		if !randx.IsValidRoomID(code) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		room := lookupRoom(deps, r, code)
		if room == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrRoomNotFound))
			return
		}

		data := map[string]any{
			"roomCode":     room.ID,
			"name":         room.Name,
			"document":     room.Document(),
			"lastSequence": room.LastSequence(),
			"users":        room.Users(),
			"presence":     room.Presences(),
		}
		resp.RespondSuccess(w, r, data)
	}
}

// lookupRoom finds a live room, reviving it from the snapshot store when it
// was swept while persisted state remains.
func lookupRoom(deps *AppDeps, r *http.Request, code string) *collab.Room {
	if room := deps.Coordinator.GetRoom(code); room != nil {
		return room
	}

	room, restoreErr := deps.Coordinator.RestoreRoom(r.Context(), code)
	if restoreErr != nil {
		if restoreErr.Code == errs.ErrRoomAlreadyExists {
			// Lost the restore race to a concurrent request.
			return deps.Coordinator.GetRoom(code)
		}
		if restoreErr.Code != errs.ErrRoomNotFound {
			logx.Warn("Room restore failed", "room_code", code, "error_code", restoreErr.Code)
		}
		return nil
	}

	return room
}
