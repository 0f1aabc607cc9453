package handlers

import (
	"log"

	"wager-ledger/middleware"
	"wager-ledger/services"

	"github.com/gofiber/fiber/v2"
)

// LedgerHandler exposes the escrow, account and wheel services over HTTP.
type LedgerHandler struct {
	Escrow     *services.EscrowService
	Accounts   *services.AccountStore
	Wheel      *services.WheelService
	Reconciler *services.Reconciler
}

func SetupLedgerRoutes(app *fiber.App, h *LedgerHandler) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	// Matches. Outcomes are decided by the game servers, never by players.
	operator := middleware.RequireRole(middleware.RoleMatchOperator, middleware.RoleAdmin)
	secured.Post("/matches", operator, h.CreateMatch)
	secured.Get("/matches/:id", h.GetMatch)
	secured.Post("/matches/:id/join", middleware.RequireUser(), h.JoinMatch)
	secured.Post("/matches/:id/outcomes", operator, h.RecordOutcome)
	secured.Post("/matches/:id/settle", operator, h.SettleMatch)
	secured.Post("/matches/:id/cancel", operator, h.CancelMatch)

	// Accounts
	owner := middleware.RequireSelfOrRole("id", middleware.RoleAdmin)
	secured.Get("/accounts/:id", owner, h.GetAccount)
	secured.Get("/accounts/:id/entries", owner, h.GetEntries)

	// Wheel
	secured.Get("/wheel/prizes", h.ListPrizes)
	secured.Post("/wheel/spin", middleware.RequireUser(), h.Spin)
	secured.Get("/wheel/draws", middleware.RequireUser(), h.ListDraws)

	// 🛠️ Admin
	admin := secured.Group("/admin", middleware.RequireRole(middleware.RoleAdmin))
	admin.Post("/accounts", h.CreateAccount)
	admin.Post("/accounts/:id/deposit", h.Deposit)
	admin.Post("/wheel/prizes", h.SeedPrizes)
	admin.Post("/reconcile", h.Reconcile)
}

// ledgerError maps a service error to an HTTP response.
func ledgerError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch services.CodeOf(err) {
	case services.CodeNotFound:
		status = fiber.StatusNotFound
	case services.CodeInsufficientFunds:
		status = fiber.StatusPaymentRequired
	case services.CodeInvalidState:
		status = fiber.StatusConflict
	case services.CodeInvalidArgument:
		status = fiber.StatusBadRequest
	case services.CodeNoEligiblePrizes:
		status = fiber.StatusUnprocessableEntity
	}
	if status == fiber.StatusInternalServerError {
		log.Printf("❌ [HTTP] %s %s: %v", c.Method(), c.Path(), err)
		return c.Status(status).JSON(fiber.Map{"error": "internal error", "code": services.CodeStorage})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error(), "code": services.CodeOf(err)})
}

func (h *LedgerHandler) CreateMatch(c *fiber.Ctx) error {
	var req struct {
		Name            string `json:"name"`
		StakeUnit       int64  `json:"stake_unit"`
		ExpectedPlayers int    `json:"expected_players"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	match, err := h.Escrow.CreateMatch(c.UserContext(), req.Name, req.StakeUnit, req.ExpectedPlayers)
	if err != nil {
		return ledgerError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(match)
}

func (h *LedgerHandler) GetMatch(c *fiber.Ctx) error {
	match, err := h.Escrow.GetMatch(c.UserContext(), c.Params("id"))
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(match)
}

func (h *LedgerHandler) JoinMatch(c *fiber.Ctx) error {
	var req struct {
		Squad string `json:"squad"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
		}
	}
	if err := h.Escrow.JoinMatch(c.UserContext(), middleware.UserID(c), c.Params("id"), req.Squad); err != nil {
		return ledgerError(c, err)
	}
	return h.GetMatch(c)
}

func (h *LedgerHandler) RecordOutcome(c *fiber.Ctx) error {
	var req struct {
		WinnerID string `json:"winner_id"`
		LoserID  string `json:"loser_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.WinnerID == "" || req.LoserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "winner_id and loser_id are required"})
	}
	if err := h.Escrow.RecordOutcomeTransfer(c.UserContext(), req.WinnerID, req.LoserID, c.Params("id")); err != nil {
		return ledgerError(c, err)
	}
	return h.GetMatch(c)
}

func (h *LedgerHandler) SettleMatch(c *fiber.Ctx) error {
	payouts, err := h.Escrow.SettleMatch(c.UserContext(), c.Params("id"))
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(fiber.Map{"match_id": c.Params("id"), "payouts": payouts})
}

func (h *LedgerHandler) CancelMatch(c *fiber.Ctx) error {
	refunds, err := h.Escrow.CancelMatch(c.UserContext(), c.Params("id"))
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(fiber.Map{"match_id": c.Params("id"), "refunds": refunds})
}

func (h *LedgerHandler) GetAccount(c *fiber.Ctx) error {
	account, err := h.Accounts.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(account)
}

func (h *LedgerHandler) GetEntries(c *fiber.Ctx) error {
	entries, err := h.Accounts.Entries(c.UserContext(), c.Params("id"), c.QueryInt("limit", 100))
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(fiber.Map{"entries": entries})
}

func (h *LedgerHandler) CreateAccount(c *fiber.Ctx) error {
	var req struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	account, err := h.Accounts.CreateAccount(c.UserContext(), req.ID, req.DisplayName)
	if err != nil {
		return ledgerError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(account)
}

func (h *LedgerHandler) Deposit(c *fiber.Ctx) error {
	var req struct {
		Amount    int64  `json:"amount"`
		Reference string `json:"reference"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	account, err := h.Accounts.Deposit(c.UserContext(), c.Params("id"), req.Amount, req.Reference)
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(account)
}

func (h *LedgerHandler) ListPrizes(c *fiber.Ctx) error {
	prizes, err := h.Wheel.ListPrizes(c.UserContext(), false)
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(fiber.Map{"prizes": prizes})
}

func (h *LedgerHandler) SeedPrizes(c *fiber.Ctx) error {
	var req struct {
		Prizes []services.PrizeInput `json:"prizes"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	prizes, err := h.Wheel.SeedPrizes(c.UserContext(), req.Prizes)
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(fiber.Map{"prizes": prizes})
}

func (h *LedgerHandler) Spin(c *fiber.Ctx) error {
	var req struct {
		Budget int64 `json:"budget"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	draw, err := h.Wheel.Spin(c.UserContext(), middleware.UserID(c), req.Budget)
	if err != nil {
		return ledgerError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(draw)
}

func (h *LedgerHandler) ListDraws(c *fiber.Ctx) error {
	draws, err := h.Wheel.ListDraws(c.UserContext(), middleware.UserID(c), c.QueryInt("limit", 100))
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(fiber.Map{"draws": draws})
}

func (h *LedgerHandler) Reconcile(c *fiber.Ctx) error {
	report, err := h.Reconciler.Run(c.UserContext())
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(report)
}
