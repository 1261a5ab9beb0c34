package server

import (
	"net/http"

	"multiplayer/server/domain"
	"multiplayer/server/handler"
)

func Route(pubsub domain.PubSub, roomManager domain.RoomManager, options domain.EndpointOptions, room handler.RoomStats) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", handler.NewAcceptHandler(pubsub, roomManager, options))
	mux.Handle("GET /healthz", handler.NewHealthHandler(room))
	return mux
}
