package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/kanisahub/giving-backend/internal/api/handlers"
	"github.com/kanisahub/giving-backend/internal/api/httpx"
	"github.com/kanisahub/giving-backend/internal/api/validate"
	"github.com/kanisahub/giving-backend/internal/config"
	"github.com/kanisahub/giving-backend/internal/gateway"
	"github.com/kanisahub/giving-backend/internal/metrics"
	"github.com/kanisahub/giving-backend/internal/middleware"
	"github.com/kanisahub/giving-backend/internal/models"
	"github.com/kanisahub/giving-backend/internal/services"
)

type RouterDeps struct {
	Cfg          config.Config
	Gateway      gateway.Gateway
	Campaigns    *services.CampaignService
	Pledges      *services.PledgeService
	Contribs     *services.ContributionService
	Reconcile    *services.ReconcileService
	Auth         *handlers.AuthHandler
	AuthRequired func(http.Handler) http.Handler
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.RateLimit(d.Cfg.RateRPS), middleware.HTTPMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", d.Auth.Login)
		r.Post("/auth/refresh", d.Auth.Refresh)

		// ---------- campaigns (read side) ----------
		r.Get("/campaigns", func(w http.ResponseWriter, r *http.Request) {
			cs, err := d.Campaigns.List(r.Context())
			if err != nil {
				writeServiceError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, cs)
		})

		r.Get("/campaigns/{id}", func(w http.ResponseWriter, r *http.Request) {
			c, err := d.Campaigns.GetByID(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, c)
		})

		// ---------- pledges ----------
		r.Post("/pledges", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				CampaignID      string  `json:"campaign_id"`
				ContributorID   *string `json:"contributor_id"`
				ContributorName string  `json:"contributor_name"`
				Amount          int64   `json:"amount"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid body", nil)
				return
			}
			var errs validate.Errs
			if e := validate.Required("campaign_id", req.CampaignID); e != nil {
				errs = append(errs, *e)
			}
			if e := validate.MinInt("amount", req.Amount, 1); e != nil {
				errs = append(errs, *e)
			}
			if len(errs) > 0 {
				httpx.WriteError(w, http.StatusBadRequest, "validation_error", errs.Error(), errs)
				return
			}
			p, err := d.Pledges.Create(r.Context(), req.CampaignID, req.ContributorID, req.ContributorName, req.Amount)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusCreated, p)
		})

		r.Get("/pledges/{id}", func(w http.ResponseWriter, r *http.Request) {
			p, err := d.Pledges.GetByID(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, p)
		})

		r.Get("/pledges", func(w http.ResponseWriter, r *http.Request) {
			cid := r.URL.Query().Get("campaign_id")
			if cid == "" {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "campaign_id required", nil)
				return
			}
			limit, offset := pageParams(r)
			ps, err := d.Pledges.ListByCampaign(r.Context(), cid, limit, offset)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, ps)
		})

		// ---------- contributions ----------
		r.Post("/contributions/mpesa/initiate", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				CampaignID      string  `json:"campaign_id"`
				PledgeID        *string `json:"pledge_id"`
				Amount          int64   `json:"amount"`
				Phone           string  `json:"phone"`
				ContributorName string  `json:"contributor_name"`
				IsAnonymous     bool    `json:"is_anonymous"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid body", nil)
				return
			}
			phone := validate.NormalizePhone(req.Phone)
			var errs validate.Errs
			if e := validate.Required("campaign_id", req.CampaignID); e != nil {
				errs = append(errs, *e)
			}
			if e := validate.MinInt("amount", req.Amount, 1); e != nil {
				errs = append(errs, *e)
			}
			if e := validate.Phone("phone", phone); e != nil {
				errs = append(errs, *e)
			}
			if len(errs) > 0 {
				httpx.WriteError(w, http.StatusBadRequest, "validation_error", errs.Error(), errs)
				return
			}

			res, err := d.Contribs.InitiateMpesa(r.Context(), services.ContributionInput{
				CampaignID:      req.CampaignID,
				PledgeID:        req.PledgeID,
				Amount:          req.Amount,
				ContributorName: req.ContributorName,
				IsAnonymous:     req.IsAnonymous,
			}, phone)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusAccepted, map[string]any{
				"success":      true,
				"contribution": res.Contribution,
				"mpesa_ref":    res.CheckoutRef,
			})
		})

		r.Post("/contributions", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				CampaignID       string  `json:"campaign_id"`
				PledgeID         *string `json:"pledge_id"`
				Amount           int64   `json:"amount"`
				PaymentMethod    string  `json:"payment_method"`
				ContributorName  string  `json:"contributor_name"`
				ContributorEmail string  `json:"contributor_email"`
				ContributorPhone string  `json:"contributor_phone"`
				IsAnonymous      bool    `json:"is_anonymous"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid body", nil)
				return
			}
			var errs validate.Errs
			if e := validate.Required("campaign_id", req.CampaignID); e != nil {
				errs = append(errs, *e)
			}
			if e := validate.MinInt("amount", req.Amount, 1); e != nil {
				errs = append(errs, *e)
			}
			if e := validate.OneOf("payment_method", req.PaymentMethod,
				string(models.MethodCash), string(models.MethodBankTransfer)); e != nil {
				errs = append(errs, *e)
			}
			if len(errs) > 0 {
				httpx.WriteError(w, http.StatusBadRequest, "validation_error", errs.Error(), errs)
				return
			}

			c, err := d.Contribs.SubmitManual(r.Context(), services.ContributionInput{
				CampaignID:       req.CampaignID,
				PledgeID:         req.PledgeID,
				Amount:           req.Amount,
				Method:           models.PaymentMethod(req.PaymentMethod),
				ContributorName:  req.ContributorName,
				ContributorEmail: req.ContributorEmail,
				ContributorPhone: req.ContributorPhone,
				IsAnonymous:      req.IsAnonymous,
			})
			if err != nil {
				writeServiceError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusCreated, map[string]any{"success": true, "contribution": c})
		})

		r.Get("/contributions/{id}", func(w http.ResponseWriter, r *http.Request) {
			c, err := d.Contribs.GetByID(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, c)
		})

		r.Get("/contributions", func(w http.ResponseWriter, r *http.Request) {
			cid := r.URL.Query().Get("campaign_id")
			if cid == "" {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "campaign_id required", nil)
				return
			}
			limit, offset := pageParams(r)
			cs, err := d.Contribs.ListByCampaign(r.Context(), cid, limit, offset)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, cs)
		})

		// ---------- gateway webhook ----------
		r.Post("/payments/mpesa/callback", func(w http.ResponseWriter, r *http.Request) {
			body, err := gateway.ReadCallbackBody(r.Body)
			if err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "unreadable body", nil)
				return
			}
			cb, err := d.Gateway.ParseCallback(body)
			if err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "malformed callback", nil)
				return
			}
			if err := d.Reconcile.ApplyCallback(r.Context(), cb); err != nil {
				// 5xx so the provider retries; the idempotency guard makes
				// that retry safe.
				httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "apply failed", nil)
				return
			}
			// Acknowledge in the provider's own envelope.
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"ResultCode": 0, "ResultDesc": "Accepted"})
		})

		// ---------- staff only ----------
		r.Group(func(r chi.Router) {
			r.Use(d.AuthRequired)

			r.Post("/contributions/{id}/verify", func(w http.ResponseWriter, r *http.Request) {
				actor, _ := middleware.Subject(r.Context())
				if err := d.Reconcile.VerifyManual(r.Context(), chi.URLParam(r, "id"), actor); err != nil {
					writeServiceError(w, err)
					return
				}
				httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
			})

			r.Post("/pledges/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
				actor, _ := middleware.Subject(r.Context())
				if err := d.Pledges.Cancel(r.Context(), chi.URLParam(r, "id"), actor); err != nil {
					writeServiceError(w, err)
					return
				}
				httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
			})

			r.Post("/campaigns", func(w http.ResponseWriter, r *http.Request) {
				var req models.Campaign
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid body", nil)
					return
				}
				var errs validate.Errs
				if e := validate.Required("title", req.Title); e != nil {
					errs = append(errs, *e)
				}
				if e := validate.MinInt("goal_amount", req.GoalAmount, 1); e != nil {
					errs = append(errs, *e)
				}
				if len(errs) > 0 {
					httpx.WriteError(w, http.StatusBadRequest, "validation_error", errs.Error(), errs)
					return
				}
				c, err := d.Campaigns.Create(r.Context(), req)
				if err != nil {
					writeServiceError(w, err)
					return
				}
				httpx.WriteJSON(w, http.StatusCreated, c)
			})

			r.Put("/campaigns/{id}/status", func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					Status string `json:"status"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid body", nil)
					return
				}
				if err := d.Campaigns.UpdateStatus(r.Context(), chi.URLParam(r, "id"), models.CampaignStatus(req.Status)); err != nil {
					writeServiceError(w, err)
					return
				}
				httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
			})
		})
	})

	return r
}

func pageParams(r *http.Request) (limit, offset int) {
	limit, offset = 50, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// writeServiceError maps service and gateway errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCampaignNotFound),
		errors.Is(err, services.ErrPledgeNotFound),
		errors.Is(err, services.ErrContributionNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, services.ErrCampaignNotActive),
		errors.Is(err, services.ErrPledgeCancelled),
		errors.Is(err, services.ErrPledgeMismatch),
		errors.Is(err, services.ErrNotManualMethod),
		errors.Is(err, services.ErrContributionNotPending):
		httpx.WriteError(w, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, services.ErrPledgeCompleted):
		httpx.WriteError(w, http.StatusConflict, "pledge_completed", err.Error(), nil)
	case errors.Is(err, gateway.ErrInvalidPhone), errors.Is(err, gateway.ErrInvalidAmount):
		httpx.WriteError(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, gateway.ErrGatewayRejected):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "gateway_rejected", err.Error(), nil)
	case errors.Is(err, gateway.ErrGatewayUnavailable):
		httpx.WriteError(w, http.StatusBadGateway, "gateway_unavailable", "payment service unavailable, try again", nil)
	default:
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}
