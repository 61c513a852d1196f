package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/vishnandaman/road-assist/internal/auth"
	"github.com/vishnandaman/road-assist/internal/roadside/domain"
	"github.com/vishnandaman/road-assist/internal/roadside/service"
)

// HTTP exposes the roadside API over chi.
type HTTP struct {
	svc     *service.Service
	tokens  *auth.TokenManager
	limiter func(http.Handler) http.Handler
}

// Option tweaks handler construction.
type Option func(*HTTP)

// WithLimiter installs a rate limiting middleware. It runs after auth so
// the limiter can key on the authenticated user.
func WithLimiter(mw func(http.Handler) http.Handler) Option {
	return func(h *HTTP) { h.limiter = mw }
}

// NewHTTP constructs a handler.
func NewHTTP(svc *service.Service, tokens *auth.TokenManager, opts ...Option) *HTTP {
	h := &HTTP{svc: svc, tokens: tokens}
	for _, opt := range opts {
		opt(h)
	}
	if h.limiter == nil {
		h.limiter = func(next http.Handler) http.Handler { return next }
	}
	return h
}

// Router builds the chi router with all endpoints and middlewares.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.limiter)
			r.Post("/auth/register", h.register)
			r.Post("/auth/login", h.login)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.tokens.Middleware(string(domain.RoleUser), string(domain.RoleAdmin)), h.limiter)
			r.Post("/requests", h.createRequest)
			r.Post("/reviews", h.createReview)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.tokens.Middleware(string(domain.RoleMechanic)), h.limiter)
			r.Get("/requests/nearby", h.nearbyRequests)
			r.Put("/requests/{id}/accept", h.acceptRequest)
			r.Get("/mechanics/profile", h.getProfile)
			r.Post("/mechanics/profile", h.upsertProfile)
			r.Put("/mechanics/availability", h.setAvailability)
			r.Get("/mechanics/current-request", h.currentRequest)
			r.Put("/mechanics/complete-request", h.completeRequest)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.tokens.Middleware(), h.limiter)
			r.Get("/requests/{id}", h.getRequest)
			r.Get("/users/{id}", h.getUser)
			r.Put("/users/location", h.updateLocation)
			r.Get("/users/mechanics/nearby", h.nearbyMechanics)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.tokens.Middleware(string(domain.RoleAdmin)), h.limiter)
			r.Get("/users", h.listUsers)
		})
	})
	return r
}

type registerRequest struct {
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Phone    string          `json:"phone"`
	Password string          `json:"password"`
	Role     domain.Role     `json:"role"`
	Location domain.GeoPoint `json:"location"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func (h *HTTP) register(w http.ResponseWriter, r *http.Request) {
	var payload registerRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := h.svc.RegisterUser(r.Context(), service.RegisterInput{
		Name:     payload.Name,
		Email:    payload.Email,
		Phone:    payload.Phone,
		Password: payload.Password,
		Role:     payload.Role,
		Location: payload.Location,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	token, err := h.tokens.Issue(user.ID, string(user.Role))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeData(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (h *HTTP) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := h.svc.Authenticate(r.Context(), payload.Email, payload.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	token, err := h.tokens.Issue(user.ID, string(user.Role))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeData(w, http.StatusOK, authResponse{Token: token, User: user})
}

type createRequestPayload struct {
	ServiceType domain.ServiceType `json:"serviceType"`
	VehicleType string             `json:"vehicleType"`
	Description string             `json:"description"`
	Location    domain.GeoPoint    `json:"location"`
}

func (h *HTTP) createRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	var payload createRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	request, notified, err := h.svc.CreateRequest(r.Context(), userID, service.CreateRequestInput{
		ServiceType: payload.ServiceType,
		VehicleType: payload.VehicleType,
		Description: payload.Description,
		Location:    payload.Location,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":            true,
		"data":               request,
		"availableMechanics": notified,
	})
}

func (h *HTTP) getRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	request, err := h.svc.GetRequest(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, request)
}

func (h *HTTP) nearbyRequests(w http.ResponseWriter, r *http.Request) {
	point, radius, ok := parseGeoQuery(w, r)
	if !ok {
		return
	}
	matches, err := h.svc.NearbyRequests(r.Context(), point, radius)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(matches), "data": matches})
}

func (h *HTTP) nearbyMechanics(w http.ResponseWriter, r *http.Request) {
	point, radius, ok := parseGeoQuery(w, r)
	if !ok {
		return
	}
	matches, err := h.svc.NearbyMechanics(r.Context(), point, radius)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(matches), "data": matches})
}

type acceptPayload struct {
	Price         *float64 `json:"price"`
	EstimatedTime *int     `json:"estimatedTime"`
}

func (h *HTTP) acceptRequest(w http.ResponseWriter, r *http.Request) {
	mechanicID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	requestID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var payload acceptPayload
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	request, err := h.svc.AcceptRequest(r.Context(), requestID, mechanicID, service.AcceptOverrides{
		Price:         payload.Price,
		EstimatedTime: payload.EstimatedTime,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, request)
}

func (h *HTTP) completeRequest(w http.ResponseWriter, r *http.Request) {
	mechanicID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	request, err := h.svc.CompleteRequest(r.Context(), mechanicID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, request)
}

func (h *HTTP) currentRequest(w http.ResponseWriter, r *http.Request) {
	mechanicID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	request, err := h.svc.CurrentRequest(r.Context(), mechanicID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, request)
}

type profilePayload struct {
	Specialties   []domain.ServiceType `json:"specialties"`
	Certification string               `json:"certification"`
	PricePerKm    float64              `json:"pricePerKm"`
	BasePrice     float64              `json:"basePrice"`
	Location      *domain.GeoPoint     `json:"location"`
}

func (h *HTTP) upsertProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	var payload profilePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	profile, err := h.svc.UpsertProfile(r.Context(), userID, service.ProfileInput{
		Specialties:   payload.Specialties,
		Certification: payload.Certification,
		PricePerKm:    payload.PricePerKm,
		BasePrice:     payload.BasePrice,
		Location:      payload.Location,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, profile)
}

func (h *HTTP) getProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	profile, err := h.svc.GetProfile(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, profile)
}

func (h *HTTP) setAvailability(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	var payload struct {
		Availability bool `json:"availability"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	profile, err := h.svc.SetAvailability(r.Context(), userID, payload.Availability)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, profile)
}

func (h *HTTP) updateLocation(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	var payload domain.GeoPoint
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := h.svc.UpdateUserLocation(r.Context(), userID, payload)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

func (h *HTTP) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	user, err := h.svc.GetUser(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

func (h *HTTP) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, users)
}

type reviewPayload struct {
	RequestID string `json:"requestId"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
}

func (h *HTTP) createReview(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	var payload reviewPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	requestID, err := uuid.Parse(payload.RequestID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid requestId")
		return
	}
	review, err := h.svc.CreateReview(r.Context(), userID, service.ReviewInput{
		RequestID: requestID,
		Rating:    payload.Rating,
		Comment:   payload.Comment,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusCreated, review)
}

// parseGeoQuery reads lat, lng and optional maxDistance query parameters.
// Malformed numbers are rejected rather than silently defaulted.
func parseGeoQuery(w http.ResponseWriter, r *http.Request) (domain.GeoPoint, float64, bool) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "lat must be a number")
		return domain.GeoPoint{}, 0, false
	}
	lng, err := strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "lng must be a number")
		return domain.GeoPoint{}, 0, false
	}
	var radius float64
	if raw := q.Get("maxDistance"); raw != "" {
		radius, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "maxDistance must be a number")
			return domain.GeoPoint{}, 0, false
		}
	}
	return domain.GeoPoint{Lat: lat, Lng: lng}, radius, true
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNoActiveRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeData(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, map[string]any{"success": true, "data": v})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
