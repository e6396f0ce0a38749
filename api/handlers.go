package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"geocab/geohash"
	"geocab/ledger"
	"geocab/matching"
	"geocab/models"
	"geocab/service"

	"github.com/gorilla/mux"
)

// CallerHeader carries the caller's address on every state-changing call.
const CallerHeader = "X-Caller-Address"

var errBadRequest = errors.New("bad request")

type Handler struct {
	svc *service.Service
	log *slog.Logger
}

func NewHandler(svc *service.Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, geohash.ErrInvalidGeohash),
		errors.Is(err, geohash.ErrInvalidCoordinate):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, matching.ErrNoDriversAvailable),
		errors.Is(err, ledger.ErrNoActiveTrip):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrTransferFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrFeeExceedsValue),
		errors.Is(err, ledger.ErrAmountOverflow):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request_failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeError(w, status, err)
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request payload: %v", errBadRequest, err)
	}
	return nil
}

func caller(r *http.Request) (models.Address, error) {
	raw := r.Header.Get(CallerHeader)
	if raw == "" {
		return models.Address{}, fmt.Errorf("%w: missing %s header", errBadRequest, CallerHeader)
	}
	addr, err := models.ParseAddress(raw)
	if err != nil {
		return models.Address{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return addr, nil
}

func pathAddress(r *http.Request) (models.Address, error) {
	addr, err := models.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		return models.Address{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return addr, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, name)
	}
	return n, nil
}

func queryFloat(r *http.Request, name string) (float64, error) {
	f, err := strconv.ParseFloat(r.URL.Query().Get(name), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", errBadRequest, name)
	}
	return f, nil
}

// PublishDriverLocations handles POST /drivers/locations
func (h *Handler) PublishDriverLocations(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Drivers []models.DriverEntry `json:"drivers"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.PublishDriverLocations(r.Context(), req.Drivers); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"published": len(req.Drivers)})
}

// DriversAtGeohash handles GET /geohash/{cell}/drivers
func (h *Handler) DriversAtGeohash(w http.ResponseWriter, r *http.Request) {
	cell := mux.Vars(r)["cell"]
	drivers, err := h.svc.DriversAtGeohash(r.Context(), cell)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cell": cell, "drivers": drivers})
}

// Neighbors handles GET /geohash/{cell}/neighbors
func (h *Handler) Neighbors(w http.ResponseWriter, r *http.Request) {
	cell := mux.Vars(r)["cell"]
	neighbors, err := h.svc.Neighbors(cell)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cell": cell, "neighbors": neighbors})
}

// DriverCell handles GET /drivers/{address}/cell
func (h *Handler) DriverCell(w http.ResponseWriter, r *http.Request) {
	driver, err := pathAddress(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cell, ok, err := h.svc.DriverCell(r.Context(), driver)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("driver %s has not published a location", driver))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"driver": driver, "cell": cell})
}

// NearbyCells handles GET /cells/nearby
func (h *Handler) NearbyCells(w http.ResponseWriter, r *http.Request) {
	lat, err := queryFloat(r, "lat")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lon, err := queryFloat(r, "lon")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	radius, err := queryFloat(r, "radius")
	if err != nil || radius < 0 {
		h.fail(w, r, fmt.Errorf("%w: radius must be a non-negative number", errBadRequest))
		return
	}
	cells := h.svc.NearbyCells(lat, lon, radius)
	if cells == nil {
		cells = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cells": cells})
}

// BookTrip handles POST /trips
func (h *Handler) BookTrip(w http.ResponseWriter, r *http.Request) {
	passenger, err := caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req struct {
		Origin      models.Coordinates `json:"origin"`
		Destination models.Coordinates `json:"destination"`
		Value       uint64             `json:"value"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	booking, err := h.svc.BookTrip(r.Context(), passenger, req.Value, req.Origin, req.Destination)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"trip":  booking.Trip,
		"event": booking.Event,
	})
}

// CompleteTrip handles POST /trips/complete
func (h *Handler) CompleteTrip(w http.ResponseWriter, r *http.Request) {
	passenger, err := caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req struct {
		Success bool `json:"success"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	payout, err := h.svc.CompleteTrip(r.Context(), passenger, req.Success)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"paid":           payout.Paid,
		"trip":           payout.Trip,
		"fee":            payout.Fee,
		"driver_payment": payout.DriverPayment,
	})
}

// ActiveTripDriver handles GET /trips/active
func (h *Handler) ActiveTripDriver(w http.ResponseWriter, r *http.Request) {
	passenger, err := caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	driver, err := h.svc.ActiveTripDriver(r.Context(), passenger)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"driver": driver})
}

// CurrentTrip handles GET /trips/current
func (h *Handler) CurrentTrip(w http.ResponseWriter, r *http.Request) {
	passenger, err := caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	trip, ok, err := h.svc.Trip(r.Context(), passenger)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		h.fail(w, r, ledger.ErrNoActiveTrip)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// SetFee handles PUT /fee
func (h *Handler) SetFee(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req struct {
		Fee uint64 `json:"fee"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.SetFee(r.Context(), who, req.Fee); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"fee": req.Fee})
}

// GetFee handles GET /fee
func (h *Handler) GetFee(w http.ResponseWriter, r *http.Request) {
	fee, err := h.svc.Fee(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fee":            fee,
		"owner":          h.svc.Owner(),
		"escrow_account": h.svc.EscrowAccount(),
	})
}

// Balance handles GET /balances/{address}
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	account, err := pathAddress(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	bal, err := h.svc.BalanceOf(r.Context(), account)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"address": account, "balance": bal})
}

// Events handles GET /events
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	events, err := h.svc.Events(r.Context(), offset, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if events == nil {
		events = []models.TripBooked{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// GetNumber handles GET /number
func (h *Handler) GetNumber(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Number(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"number": n})
}

// SetNumber handles PUT /number
func (h *Handler) SetNumber(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Number uint64 `json:"number"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.SetNumber(r.Context(), req.Number); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"number": req.Number})
}

// Increment handles POST /number/increment
func (h *Handler) Increment(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Increment(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	h.GetNumber(w, r)
}
