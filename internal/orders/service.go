package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes order reads and the settlement metadata merge.
type Service interface {
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	MergeExtra(ctx context.Context, orderID uuid.UUID, patch map[string]any, hooks ...TxHook) error
}

// TxHook runs inside the merge transaction after extra is written.
type TxHook func(tx *gorm.DB) error

type service struct {
	repo Repository
	tx   txRunner
}

// NewService builds an order service with the required dependencies.
func NewService(repo Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx}, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		return nil, mapLookupError(err, "load order")
	}
	return order, nil
}

// MergeExtra folds patch into the order's extra document under a row lock so
// concurrent writers never drop each other's keys.
func (s *service) MergeExtra(ctx context.Context, orderID uuid.UUID, patch map[string]any, hooks ...TxHook) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if len(patch) == 0 {
		return nil
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrderForUpdate(ctx, orderID)
		if err != nil {
			return mapLookupError(err, "lock order")
		}
		if err := repo.UpdateExtra(ctx, orderID, order.Extra.Merge(patch)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order extra")
		}
		for _, hook := range hooks {
			if err := hook(tx); err != nil {
				return err
			}
		}
		return nil
	})
}

func mapLookupError(err error, action string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}
