package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/brycehammond/allowance-sub012/internal/infrastructure/auth"
	"github.com/brycehammond/allowance-sub012/internal/models"
	service "github.com/brycehammond/allowance-sub012/internal/services"
	pkgerrors "github.com/brycehammond/allowance-sub012/pkg/errors"
)

type Handler struct {
	children   service.ChildService
	ledger     service.LedgerService
	allowances service.AllowanceService
	goals      service.GoalService
	gifts      service.GiftService
}

func NewHandler(children service.ChildService, ledger service.LedgerService,
	allowances service.AllowanceService, goals service.GoalService, gifts service.GiftService) *Handler {
	return &Handler{
		children:   children,
		ledger:     ledger,
		allowances: allowances,
		goals:      goals,
		gifts:      gifts,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pkgerrors.ErrChildNotFound),
		errors.Is(err, pkgerrors.ErrGoalNotFound),
		errors.Is(err, pkgerrors.ErrGiftNotFound),
		errors.Is(err, pkgerrors.ErrChallengeNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrAllowanceNotDue),
		errors.Is(err, pkgerrors.ErrGiftAlreadyProcessed),
		errors.Is(err, pkgerrors.ErrGoalNotActive):
		status = http.StatusConflict
	case errors.Is(err, pkgerrors.ErrInsufficientFunds),
		errors.Is(err, pkgerrors.ErrAmountExceedsBalance),
		errors.Is(err, pkgerrors.ErrInvalidAmount),
		errors.Is(err, pkgerrors.ErrInvalidConfiguration),
		errors.Is(err, pkgerrors.ErrInvalidContribution),
		errors.Is(err, pkgerrors.ErrNilChild),
		errors.Is(err, pkgerrors.ErrNilGift):
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}

// RegisterPublicRoutes mounts the giver-facing surface: gift submission and
// gift lookup by reference need no account.
func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/gifts", h.SubmitGift).Methods("POST")
	r.HandleFunc("/gifts/ref/{reference}", h.GetGiftByReference).Methods("GET")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/children", h.CreateChild).Methods("POST")
	r.HandleFunc("/children/{id}", h.GetChild).Methods("GET")
	r.HandleFunc("/children/{id}/balances", h.GetBalances).Methods("GET")
	r.HandleFunc("/children/{id}/allowance-config", h.UpdateAllowanceConfig).Methods("PUT")
	r.HandleFunc("/children/{id}/transfer-config", h.UpdateTransferConfig).Methods("PUT")
	r.HandleFunc("/children/{id}/allowance/pay", h.PayAllowance).Methods("POST")
	r.HandleFunc("/children/{id}/transactions", h.ListTransactions).Methods("GET")
	r.HandleFunc("/children/{id}/transactions", h.ApplyBalanceChange).Methods("POST")
	r.HandleFunc("/children/{id}/savings-transactions", h.ListSavingsTransactions).Methods("GET")
	r.HandleFunc("/children/{id}/savings-transactions", h.ApplySavingsChange).Methods("POST")
	r.HandleFunc("/children/{id}/goals", h.ListGoals).Methods("GET")
	r.HandleFunc("/children/{id}/gifts/pending", h.ListPendingGifts).Methods("GET")

	r.HandleFunc("/allowances/run", h.RunAllowanceSweep).Methods("POST")

	r.HandleFunc("/goals", h.CreateGoal).Methods("POST")
	r.HandleFunc("/goals/{id}", h.GetGoal).Methods("GET")
	r.HandleFunc("/goals/{id}/contributions", h.Contribute).Methods("POST")
	r.HandleFunc("/goals/{id}/contributions", h.ListContributions).Methods("GET")
	r.HandleFunc("/goals/{id}/withdrawals", h.WithdrawFromGoal).Methods("POST")
	r.HandleFunc("/goals/{id}/matching-rule", h.SetMatchingRule).Methods("PUT")
	r.HandleFunc("/goals/{id}/challenges", h.StartChallenge).Methods("POST")
	r.HandleFunc("/goals/{id}/challenges/evaluate", h.EvaluateChallenge).Methods("POST")

	r.HandleFunc("/gifts/{id}/approve", h.ApproveGift).Methods("POST")
	r.HandleFunc("/gifts/{id}/reject", h.RejectGift).Methods("POST")
}

func (h *Handler) CreateChild(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FamilyID              int64           `json:"family_id"`
		Name                  string          `json:"name"`
		WeeklyAllowanceAmount int64           `json:"weekly_allowance_amount"`
		AllowanceDayOfWeek    *int            `json:"allowance_day_of_week,omitempty"`
		AllowDebt             bool            `json:"allow_debt"`
		TransferType          string          `json:"transfer_type"`
		TransferValue         decimal.Decimal `json:"transfer_value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, err)
		return
	}

	child := &models.Child{
		FamilyID:              req.FamilyID,
		Name:                  req.Name,
		WeeklyAllowanceAmount: req.WeeklyAllowanceAmount,
		AllowanceDayOfWeek:    req.AllowanceDayOfWeek,
		AllowDebt:             req.AllowDebt,
		TransferType:          models.TransferType(req.TransferType),
		TransferValue:         req.TransferValue,
	}
	if err := h.children.CreateChild(r.Context(), child); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, child)
}

func (h *Handler) GetChild(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, pkgerrors.ErrChildNotFound)
		return
	}
	child, err := h.children.GetChild(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, child)
}

func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, pkgerrors.ErrChildNotFound)
		return
	}
	balances, err := h.ledger.GetBalances(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, balances)
}

func (h *Handler) UpdateAllowanceConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, pkgerrors.ErrChildNotFound)
		return
	}
	var req struct {
		WeeklyAllowanceAmount int64 `json:"weekly_allowance_amount"`
		AllowanceDayOfWeek    *int  `json:"allowance_day_of_week,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.children.UpdateAllowanceConfig(r.Context(), id, req.WeeklyAllowanceAmount, req.AllowanceDayOfWeek); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) UpdateTransferConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, pkgerrors.ErrChildNotFound)
		return
	}
	var req struct {
		TransferType  string          `json:"transfer_type"`
		TransferValue decimal.Decimal `json:"transfer_value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.children.UpdateTransferConfig(r.Context(), id, models.TransferType(req.TransferType), req.TransferValue); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) PayAllowance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, pkgerrors.ErrChildNotFound)
		return
	}
	t, err := h.allowances.PayAllowance(r.Context(), id, auth.ActorFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) RunAllowanceSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.allowances.ProcessAllPendingAllowances(r.Context(), auth.ActorFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, pkgerrors.ErrChildNotFound)
		return
	}
	transactions, err := h.ledger.GetTransactionHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, transactions)
}

func (h *Handler) ApplyBalanceChange(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, pkgerrors.ErrChildNotFound)
		return
	}
	var req struct {
		Amount      int64  `json:"amount"`
		Type        string `json:"type"`
		Category    string `json:"category"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, err)
		return
	}
	t, err := h.ledger.ApplyBalanceChange(r.Context(), id, req.Amount,
		models.TransactionType(req.Type), models.TransactionCategory(req.Category),
		req.Description, auth.ActorFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) ListSavingsTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, pkgerrors.ErrChildNotFound)
		return
	}
	transactions, err := h.ledger.GetSavingsHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, transactions)
}

func (h *Handler) ApplySavingsChange(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, pkgerrors.ErrChildNotFound)
		return
	}
	var req struct {
		Amount int64  `json:"amount"`
		Type   string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, err)
		return
	}
	t, err := h.ledger.ApplySavingsChange(r.Context(), id, req.Amount,
		models.SavingsTransactionType(req.Type), auth.ActorFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) CreateGoal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChildID      int64  `json:"child_id"`
		Name         string `json:"name"`
		TargetAmount int64  `json:"target_amount"`
		Category     string `json:"category"`
		Priority     int    `json:"priority"`
		Milestones   []struct {
			Percent     int   `json:"percent"`
			BonusAmount int64 `json:"bonus_amount"`
		} `json:"milestones,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, err)
		return
	}

	goal := &models.SavingsGoal{
		ChildID:      req.ChildID,
		Name:         req.Name,
		TargetAmount: req.TargetAmount,
		Category:     req.Category,
		Priority:     req.Priority,
	}
	for _, m := range req.Milestones {
		goal.Milestones = append(goal.Milestones, models.GoalMilestone{
			Percent:     m.Percent,
			BonusAmount: m.BonusAmount,
		})
	}
	if err := h.goals.CreateGoal(r.Context(), goal); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, goal)
}

func (h *Handler) GetGoal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, pkgerrors.ErrGoalNotFound)
		return
	}
	goal, err := h.goals.GetGoal(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, goal)
}

func (h *Handler) ListGoals(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, pkgerrors.ErrChildNotFound)
		return
	}
	goals, err := h.goals.ListGoals(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, goals)
}

func (h *Handler) Contribute(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, pkgerrors.ErrGoalNotFound)
		return
	}
	var req struct {
		Amount      int64  `json:"amount"`
		Type        string `json:"type"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Type == "" {
		req.Type = string(models.ContributionChildDeposit)
	}
	res, err := h.goals.Contribute(r.Context(), id, req.Amount,
		models.ContributionType(req.Type), req.Description, auth.ActorFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) ListContributions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, pkgerrors.ErrGoalNotFound)
		return
	}
	contributions, err := h.goals.ListContributions(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, contributions)
}

func (h *Handler) WithdrawFromGoal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, pkgerrors.ErrGoalNotFound)
		return
	}
	var req struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, err)
		return
	}
	c, err := h.goals.Withdraw(r.Context(), id, req.Amount, req.Reason, auth.ActorFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) SetMatchingRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, pkgerrors.ErrGoalNotFound)
		return
	}
	var req struct {
		Type           string          `json:"type"`
		MatchRatio     decimal.Decimal `json:"match_ratio"`
		MaxMatchAmount *int64          `json:"max_match_amount,omitempty"`
		ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, err)
		return
	}
	rule := &models.ParentMatchingRule{
		GoalID:         id,
		Type:           models.MatchType(req.Type),
		MatchRatio:     req.MatchRatio,
		MaxMatchAmount: req.MaxMatchAmount,
		ExpiresAt:      req.ExpiresAt,
	}
	if err := h.goals.SetMatchingRule(r.Context(), rule); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, rule)
}

func (h *Handler) StartChallenge(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, pkgerrors.ErrGoalNotFound)
		return
	}
	var req struct {
		TargetAmount int64     `json:"target_amount"`
		BonusAmount  int64     `json:"bonus_amount"`
		StartsAt     time.Time `json:"starts_at"`
		EndsAt       time.Time `json:"ends_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, err)
		return
	}
	challenge := &models.GoalChallenge{
		GoalID:       id,
		TargetAmount: req.TargetAmount,
		BonusAmount:  req.BonusAmount,
		StartsAt:     req.StartsAt,
		EndsAt:       req.EndsAt,
	}
	if err := h.goals.StartChallenge(r.Context(), challenge); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, challenge)
}

func (h *Handler) EvaluateChallenge(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, pkgerrors.ErrGoalNotFound)
		return
	}
	res, err := h.goals.EvaluateChallenge(r.Context(), id, auth.ActorFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) SubmitGift(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChildID           int64            `json:"child_id"`
		GiverName         string           `json:"giver_name"`
		GiverEmail        string           `json:"giver_email"`
		Amount            int64            `json:"amount"`
		Occasion          string           `json:"occasion"`
		Message           string           `json:"message"`
		GoalID            *int64           `json:"goal_id,omitempty"`
		SavingsPercentage *decimal.Decimal `json:"savings_percentage,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, err)
		return
	}

	gift := &models.Gift{
		ChildID:    req.ChildID,
		GiverName:  req.GiverName,
		GiverEmail: req.GiverEmail,
		Amount:     req.Amount,
		Occasion:   req.Occasion,
		Message:    req.Message,
		Allocation: models.GiftAllocation{
			GoalID:            req.GoalID,
			SavingsPercentage: req.SavingsPercentage,
		},
	}
	if err := h.gifts.Submit(r.Context(), gift); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, gift)
}

func (h *Handler) GetGiftByReference(w http.ResponseWriter, r *http.Request) {
	gift, err := h.gifts.GetByReference(r.Context(), mux.Vars(r)["reference"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, gift)
}

func (h *Handler) ListPendingGifts(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, pkgerrors.ErrChildNotFound)
		return
	}
	gifts, err := h.gifts.ListPending(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, gifts)
}

func (h *Handler) ApproveGift(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, pkgerrors.ErrGiftNotFound)
		return
	}
	res, err := h.gifts.Approve(r.Context(), id, auth.ActorFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) RejectGift(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, pkgerrors.ErrGiftNotFound)
		return
	}
	gift, err := h.gifts.Reject(r.Context(), id, auth.ActorFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, gift)
}
