package metering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vitalog-health/vitalog/internal/config"
	"github.com/vitalog-health/vitalog/internal/freecredit"
	"github.com/vitalog-health/vitalog/internal/ledger"
	"github.com/vitalog-health/vitalog/internal/metrics"
	"github.com/vitalog-health/vitalog/internal/pricing"
	"github.com/vitalog-health/vitalog/internal/usage"
)

// ErrUnknownFeature indicates a fixed-cost action whose feature has no
// price in the feature table. Operator-facing misconfiguration.
var ErrUnknownFeature = errors.New("metering: unknown feature")

// Service ties the estimator, free-credit pool, wallet ledger and usage
// recorder together. MeterAction runs before the external action and
// SettleAction after it; no ledger lock is ever held across the action
// itself.
type Service struct {
	wallet    *ledger.Service
	credits   *freecredit.Service
	estimator *pricing.Estimator
	recorder  *usage.Recorder
	features  config.FeaturesConfig
	logger    *slog.Logger
}

func NewService(
	wallet *ledger.Service,
	credits *freecredit.Service,
	estimator *pricing.Estimator,
	recorder *usage.Recorder,
	features config.FeaturesConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		wallet:    wallet,
		credits:   credits,
		estimator: estimator,
		recorder:  recorder,
		features:  features,
		logger:    logger,
	}
}

// MeterAction runs the pre-flight sequence for one action, in order:
// dedup check, free credit, wallet affordability with output capping.
// The order is the business rule; do not reorder.
func (s *Service) MeterAction(ctx context.Context, req MeterRequest) (Decision, error) {
	if req.DedupKey != "" {
		seen, err := s.recorder.HasEvent(ctx, req.AccountID, req.Feature, req.DedupKey)
		if err != nil {
			return Decision{}, fmt.Errorf("dedup lookup: %w", err)
		}
		if seen {
			metrics.MeterDecisionsTotal.WithLabelValues(req.Feature, "allowed_dedup").Inc()
			return Decision{Allowed: true, SkipCharge: true, CappedMaxOutput: req.Cost.MaxOutputTokens}, nil
		}
	}

	has, err := s.credits.HasCredit(ctx, req.AccountID, req.Feature)
	if err != nil {
		return Decision{}, fmt.Errorf("free credit lookup: %w", err)
	}
	if has {
		consumed, err := s.credits.ConsumeCredit(ctx, req.AccountID, req.Feature)
		if err != nil {
			return Decision{}, fmt.Errorf("free credit consume: %w", err)
		}
		if consumed {
			metrics.MeterDecisionsTotal.WithLabelValues(req.Feature, "allowed_free").Inc()
			return Decision{Allowed: true, UsedFree: true, CappedMaxOutput: req.Cost.MaxOutputTokens}, nil
		}
		// Lost the last credit to a concurrent call; fall through to
		// the wallet.
	}

	status, err := s.wallet.WalletStatus(ctx, req.AccountID)
	if err != nil {
		return Decision{}, fmt.Errorf("wallet status: %w", err)
	}

	if req.Cost.Variable() {
		capped, err := s.estimator.CapOutputBudget(req.Cost.Model, req.Cost.PromptText, req.Cost.MaxOutputTokens, status.TotalAvailableCents)
		if err != nil {
			return Decision{}, err
		}
		if capped == 0 {
			return s.deny(ctx, req, status)
		}
		metrics.MeterDecisionsTotal.WithLabelValues(req.Feature, "allowed").Inc()
		return Decision{Allowed: true, CappedMaxOutput: capped}, nil
	}

	cost, err := s.fixedCost(req)
	if err != nil {
		return Decision{}, err
	}
	if status.TotalAvailableCents < cost {
		return s.deny(ctx, req, status)
	}
	metrics.MeterDecisionsTotal.WithLabelValues(req.Feature, "allowed").Inc()
	return Decision{Allowed: true, CappedMaxOutput: req.Cost.MaxOutputTokens}, nil
}

// SettleAction charges the realized cost and records the usage event.
// The action already ran: a charge that loses a race with a concurrent
// spender is logged for reconciliation, never turned into a denial.
func (s *Service) SettleAction(ctx context.Context, req SettleRequest) error {
	cost, err := s.realizedCost(req)
	if err != nil {
		return err
	}

	recordedCost := int64(0)
	if req.Success && !req.UsedFree && !req.SkipCharge {
		recordedCost = cost
		if cost > 0 {
			ok, err := s.wallet.ChargeCents(ctx, req.AccountID, cost)
			switch {
			case err != nil:
				metrics.ChargesTotal.WithLabelValues("error").Inc()
				// No debit happened, so the event must not claim revenue.
				req.ErrorMessage = "charge failed: " + err.Error()
				s.recordEvent(ctx, req, 0)
				return fmt.Errorf("charging realized cost: %w", err)
			case !ok:
				metrics.ChargesTotal.WithLabelValues("race_lost").Inc()
				s.logger.Warn("charge lost race after action was delivered, needs reconciliation",
					"account_id", req.AccountID,
					"feature", req.Feature,
					"cost_cents", cost,
				)
			default:
				metrics.ChargesTotal.WithLabelValues("ok").Inc()
			}
		}
	}

	s.recordEvent(ctx, req, recordedCost)
	return nil
}

func (s *Service) recordEvent(ctx context.Context, req SettleRequest, costCents int64) {
	metrics.UsageCostCents.WithLabelValues(req.Feature).Observe(float64(costCents))
	s.recorder.Record(ctx, usage.Event{
		AccountID:        req.AccountID,
		Feature:          req.Feature,
		Endpoint:         req.Endpoint,
		Model:            req.Model,
		PromptTokens:     req.PromptTokens,
		CompletionTokens: req.CompletionTokens,
		CostCents:        costCents,
		Success:          req.Success,
		ErrorMessage:     req.ErrorMessage,
		DedupKey:         req.DedupKey,
	})
}

func (s *Service) realizedCost(req SettleRequest) (int64, error) {
	if req.ActualCostCents > 0 {
		return req.ActualCostCents, nil
	}
	if req.Model != "" && req.PromptTokens+req.CompletionTokens > 0 {
		return s.estimator.CostForTokens(req.Model, req.PromptTokens, req.CompletionTokens)
	}
	return req.ActualCostCents, nil
}

func (s *Service) fixedCost(req MeterRequest) (int64, error) {
	if req.Cost.FixedCents > 0 {
		return req.Cost.FixedCents, nil
	}
	if cents, ok := s.features.FixedCost(req.Feature); ok {
		return cents, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFeature, req.Feature)
}

// CreditStatus is the combined wallet and free-credit view served to the
// product's account screen.
type CreditStatus struct {
	HasAccess   bool                 `json:"has_access"`
	Wallet      *ledger.WalletStatus `json:"wallet"`
	FreeCredits *freecredit.Status   `json:"free_credits"`
}

// CreditStatus assembles the account's wallet and free-credit state. Free
// credits are granted lazily here: new accounts receive the launch set on
// first read, accounts that predate the launch receive the backfill while
// its grace window is open.
func (s *Service) CreditStatus(ctx context.Context, accountID uuid.UUID) (*CreditStatus, error) {
	acct, err := s.wallet.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if err := s.credits.EnsureGranted(ctx, accountID, acct.CreatedAt); err != nil {
		return nil, fmt.Errorf("granting free credits: %w", err)
	}

	wallet, err := s.wallet.WalletStatus(ctx, accountID)
	if err != nil {
		return nil, err
	}
	credits, err := s.credits.Status(ctx, accountID)
	if err != nil {
		return nil, err
	}

	return &CreditStatus{
		HasAccess:   wallet.HasSubscription || len(wallet.TopUps) > 0 || credits.Total > 0,
		Wallet:      wallet,
		FreeCredits: credits,
	}, nil
}

// AddTopUp books a purchased credit pool onto the account's wallet.
func (s *Service) AddTopUp(ctx context.Context, accountID uuid.UUID, amountCents int64) (*ledger.TopUp, error) {
	return s.wallet.AddTopUp(ctx, accountID, amountCents)
}

// UsageBreakdown aggregates the account's usage per feature over the
// current billing period.
func (s *Service) UsageBreakdown(ctx context.Context, accountID uuid.UUID) ([]usage.FeatureUsage, error) {
	wallet, err := s.wallet.WalletStatus(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.recorder.Breakdown(ctx, accountID, wallet.PeriodStart)
}

// deny resolves which denial to return. NoAccess means the account has
// no subscription, no active top-up and no free credit left anywhere.
func (s *Service) deny(ctx context.Context, req MeterRequest, status *ledger.WalletStatus) (Decision, error) {
	reason := DenyInsufficientFunds
	if !status.HasSubscription && len(status.TopUps) == 0 {
		credits, err := s.credits.Status(ctx, req.AccountID)
		if err != nil {
			return Decision{}, fmt.Errorf("free credit status: %w", err)
		}
		if credits.Total == 0 {
			reason = DenyNoAccess
		}
	}
	metrics.MeterDecisionsTotal.WithLabelValues(req.Feature, "denied_"+string(reason)).Inc()
	s.logger.Info("metered action denied",
		"account_id", req.AccountID,
		"feature", req.Feature,
		"reason", string(reason),
		"available_cents", status.TotalAvailableCents,
	)
	return Decision{Reason: reason}, nil
}
