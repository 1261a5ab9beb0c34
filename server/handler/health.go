package handler

import (
	"encoding/json"
	"net/http"
)

// RoomStats はヘルスチェックに載せるルームの状態です。
type RoomStats interface {
	SessionCount() int
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func NewHealthHandler(room RoomStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		if room != nil {
			resp.Sessions = room.SessionCount()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
