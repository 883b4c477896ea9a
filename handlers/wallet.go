// handlers/wallet.go
package handlers

import (
	"time"

	"grubs-service/middleware"
	"grubs-service/models"
	"grubs-service/services"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type walletMutationRequest struct {
	UserID         string                 `json:"user_id" validate:"required,uuid"`
	Amount         decimal.Decimal        `json:"amount"`
	Type           models.TransactionType `json:"type"`
	ReferenceType  string                 `json:"reference_type" validate:"omitempty,oneof=encounter event external"`
	ReferenceID    string                 `json:"reference_id" validate:"required_with=ReferenceType"`
	Description    string                 `json:"description" validate:"max=500"`
	IdempotencyKey string                 `json:"idempotency_key" validate:"max=200"`
}

func (r walletMutationRequest) entry(defaultType models.TransactionType, at time.Time) services.LedgerEntry {
	typ := r.Type
	if typ == "" {
		typ = defaultType
	}
	e := services.LedgerEntry{
		ActorID:        r.UserID,
		Amount:         r.Amount,
		Type:           typ,
		Description:    r.Description,
		IdempotencyKey: r.IdempotencyKey,
		At:             at,
	}
	if r.ReferenceType != "" {
		e.Reference = &models.Reference{Kind: models.ReferenceKind(r.ReferenceType), ID: r.ReferenceID}
	}
	return e
}

// SetupWalletRoutes registers the member-facing wallet reads under secured and the
// server-to-server credit/debit API under api.
func SetupWalletRoutes(secured, api fiber.Router, ledger *services.LedgerService, now func() time.Time, log *zap.Logger) {
	secured.Get("/wallet", func(c *fiber.Ctx) error {
		userID := middleware.UserID(c)
		balance, err := ledger.Balance(c.UserContext(), userID)
		if err != nil {
			return respondError(c, log, err)
		}
		page, err := ledger.Transactions(c.UserContext(), userID, 1, 10, "")
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{
			"balance":            balance,
			"recentTransactions": page.Transactions,
		})
	})

	secured.Get("/wallet/transactions", func(c *fiber.Ctx) error {
		page, err := ledger.Transactions(c.UserContext(), middleware.UserID(c),
			c.QueryInt("page", 1), c.QueryInt("limit", 20), models.TransactionType(c.Query("type")))
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(page)
	})

	api.Post("/credit", func(c *fiber.Ctx) error {
		var req walletMutationRequest
		if err := parseBody(c, &req); err != nil {
			return err
		}
		res, err := ledger.Credit(c.UserContext(), req.entry(models.TxStockSell, now()))
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{"success": true, "newBalance": res.NewBalance, "replayed": res.Replayed})
	})

	api.Post("/debit", func(c *fiber.Ctx) error {
		var req walletMutationRequest
		if err := parseBody(c, &req); err != nil {
			return err
		}
		res, err := ledger.Debit(c.UserContext(), req.entry(models.TxStockBuy, now()))
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{"success": true, "newBalance": res.NewBalance, "replayed": res.Replayed})
	})

	api.Get("/buying-power", func(c *fiber.Ctx) error {
		userID := c.Get("X-User-ID")
		if userID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "user id required")
		}
		balance, err := ledger.Balance(c.UserContext(), userID)
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{"balance": balance})
	})
}
