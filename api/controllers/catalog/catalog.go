package catalog

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/api/middleware"
	"github.com/angelmondragon/marketplace-backend/api/responses"
	"github.com/angelmondragon/marketplace-backend/api/validators"
	internalcatalog "github.com/angelmondragon/marketplace-backend/internal/catalog"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

type ingestor interface {
	SyncStock(ctx context.Context, businessID uuid.UUID, entries []internalcatalog.RawEntry) (*internalcatalog.SyncResult, error)
	UpsertCatalog(ctx context.Context, businessID uuid.UUID, entries []internalcatalog.CatalogEntry) (*internalcatalog.UpsertResult, error)
}

type syncRequest struct {
	Items []internalcatalog.RawEntry `json:"items" validate:"required"`
}

type upsertRequest struct {
	Items []internalcatalog.CatalogEntry `json:"items" validate:"required,dive"`
}

// SyncStock applies a price and stock feed to the caller's catalog.
func SyncStock(svc ingestor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		businessID, ok := middleware.BusinessIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "business scope missing"))
			return
		}

		var req syncRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.SyncStock(r.Context(), businessID, req.Items)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// UpsertItems creates or updates catalog item metadata by code.
func UpsertItems(svc ingestor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		businessID, ok := middleware.BusinessIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "business scope missing"))
			return
		}

		var req upsertRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.UpsertCatalog(r.Context(), businessID, req.Items)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
