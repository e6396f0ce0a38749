package api

import (
	"log/slog"
	"net/http"

	"geocab/logger"
	"geocab/metrics"
	"geocab/service"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

func RegisterRoutes(svc *service.Service, hub *Hub, log *slog.Logger) http.Handler {
	router := mux.NewRouter()
	h := NewHandler(svc, log)

	// Driver index
	router.HandleFunc("/drivers/locations", h.PublishDriverLocations).Methods("POST")
	router.HandleFunc("/drivers/{address}/cell", h.DriverCell).Methods("GET")
	router.HandleFunc("/geohash/{cell}/drivers", h.DriversAtGeohash).Methods("GET")
	router.HandleFunc("/geohash/{cell}/neighbors", h.Neighbors).Methods("GET")
	router.HandleFunc("/cells/nearby", h.NearbyCells).Methods("GET")

	// Trips
	router.HandleFunc("/trips", h.BookTrip).Methods("POST")
	router.HandleFunc("/trips/complete", h.CompleteTrip).Methods("POST")
	router.HandleFunc("/trips/active", h.ActiveTripDriver).Methods("GET")
	router.HandleFunc("/trips/current", h.CurrentTrip).Methods("GET")

	// Ledger
	router.HandleFunc("/fee", h.SetFee).Methods("PUT")
	router.HandleFunc("/fee", h.GetFee).Methods("GET")
	router.HandleFunc("/balances/{address}", h.Balance).Methods("GET")

	// Events
	router.HandleFunc("/events", h.Events).Methods("GET")
	router.HandleFunc("/events/ws", hub.ServeWS).Methods("GET")

	// Legacy counter
	router.HandleFunc("/number", h.GetNumber).Methods("GET")
	router.HandleFunc("/number", h.SetNumber).Methods("PUT")
	router.HandleFunc("/number/increment", h.Increment).Methods("POST")

	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	router.Use(logger.AccessMiddleware(log))

	// Add CORS support
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT"}),
		handlers.AllowedHeaders([]string{"Content-Type", CallerHeader}),
	)

	return cors(router)
}
