/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which is responsible for rate limiting, validating
room and user parameters, upgrading the HTTP connection to WebSocket, and initiating the client lifecycle.
*/
package handler

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"textroom/internal/app/user"
	"textroom/internal/pkg/errs"
	"textroom/internal/pkg/limiter"
	"textroom/internal/pkg/logx"
	"textroom/internal/pkg/randx"
	"textroom/internal/pkg/resp"
)

// MaxRoomUsers caps concurrent members per room at the transport level.
const MaxRoomUsers = 50

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		if ip == "" {
			ip = "unknown_ip"
		}

		if !rateLimiter.GetLimiter(ip).Allow() {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", ip)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		roomCode := chi.URLParam(r, "code")
		if roomCode == "" {
			logx.Warn("WebSocket request rejected: Missing room code")
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		query := r.URL.Query()
		userID := query.Get("uid")
		displayName := query.Get("dn")

		if displayName == "" {
			logx.Warn("WebSocket request rejected: Missing dn query parameter", "room_code", roomCode)
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		// Guests without an id get a generated one; the client learns it from
		// its own join envelope.
		if userID == "" {
			userID = randx.UserID()
		}

		room := lookupRoom(deps, r, roomCode)
		if room == nil {
			logx.Info("WebSocket connection rejected: Room not found.", "room_code", roomCode)
			resp.RespondError(w, r, errs.NewError(errs.ErrRoomNotFound))
			return
		}
		if room.MemberCount() >= MaxRoomUsers {
			logx.Info("WebSocket connection rejected: Room is full.", "room_code", roomCode)
			resp.RespondError(w, r, errs.NewError(errs.ErrRoomIsFull))
			return
		}

		currentUser := user.New(userID, displayName)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := NewClient(deps, roomCode, conn, currentUser)

		go client.WritePump()

		if joinErr := client.Register(); joinErr != nil {
			logx.Warn("WebSocket join failed after upgrade", "room_code", roomCode, "error_code", joinErr.Code)
			client.Close()
			return
		}

		logx.Info("WebSocket connection established and client registered", "client_id", userID, "room_code", roomCode)

		client.ReadPump()
	}
}
