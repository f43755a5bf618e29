package credits

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditwallet-backend/internal/grants"
	"github.com/angelmondragon/creditwallet-backend/internal/ledger"
	"github.com/angelmondragon/creditwallet-backend/internal/wallets"
	"github.com/angelmondragon/creditwallet-backend/pkg/db"
	"github.com/angelmondragon/creditwallet-backend/pkg/db/models"
	"github.com/angelmondragon/creditwallet-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditwallet-backend/pkg/errors"
	"github.com/angelmondragon/creditwallet-backend/pkg/logger"
	"github.com/angelmondragon/creditwallet-backend/pkg/metrics"
	"github.com/angelmondragon/creditwallet-backend/pkg/outbox"
	"github.com/angelmondragon/creditwallet-backend/pkg/outbox/payloads"
)

const (
	reasonAutoRecovery        = "auto-recovery"
	reasonManualReset         = "manual-reset"
	reasonPackageGrant        = "package-grant"
	reasonIndependentPurchase = "independent-purchase"
	reasonRefund              = "refund"
	reasonConsumptionPrefix   = "service-consumption:"

	opConsume        = "consume"
	opRecover        = "recover"
	opManualReset    = "manual_reset"
	opGrant          = "grant"
	opAddIndependent = "add_independent"
	opRefund         = "refund"

	requestIDConstraint = "ux_credit_transactions_request"
	walletPKConstraint  = "credit_wallets_pkey"

	defaultRetryAttempts = 3
	defaultRetryBackoff  = 25 * time.Millisecond
)

var (
	errVersionConflict  = errors.New("wallet version conflict")
	errRetriesExhausted = errors.New("wallet update retries exhausted")
	errUnrecordedChange = errors.New("wallet changed without a ledger entry")
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the wallet engine. Expected business outcomes come back as a
// Failure on the result; only infrastructure problems and invalid input are
// returned as errors.
type Service interface {
	Consume(ctx context.Context, input ConsumeInput) (*ConsumeResult, error)
	Recover(ctx context.Context, userID uuid.UUID, now time.Time) (*RecoverResult, error)
	ManualReset(ctx context.Context, userID uuid.UUID, now time.Time) (*ManualResetResult, error)
	GrantPackage(ctx context.Context, input GrantPackageInput) (*GrantPackageResult, error)
	AddIndependent(ctx context.Context, input AddIndependentInput) (*BalanceChangeResult, error)
	Refund(ctx context.Context, input RefundInput) (*RefundResult, error)
	Balance(ctx context.Context, userID uuid.UUID, now time.Time) (*BalanceView, error)
}

// ServiceParams wires the engine.
type ServiceParams struct {
	TxRunner      txRunner
	Wallets       wallets.Repository
	Grants        grants.Repository
	Ledger        ledger.Service
	Outbox        outboxPublisher
	Metrics       *metrics.CreditMetrics
	Logger        *logger.Logger
	Clock         func() time.Time
	RetryAttempts int
	RetryBackoff  time.Duration
}

type service struct {
	tx       txRunner
	wallets  wallets.Repository
	grants   grants.Repository
	ledger   ledger.Service
	outbox   outboxPublisher
	metrics  *metrics.CreditMetrics
	logg     *logger.Logger
	clock    func() time.Time
	attempts int
	backoff  time.Duration
}

// NewService validates the dependencies and builds the engine.
func NewService(params ServiceParams) (Service, error) {
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Wallets == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if params.Grants == nil {
		return nil, fmt.Errorf("grant repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	attempts := params.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	backoff := params.RetryBackoff
	if backoff < 0 {
		backoff = defaultRetryBackoff
	}
	return &service{
		tx:       params.TxRunner,
		wallets:  params.Wallets,
		grants:   params.Grants,
		ledger:   params.Ledger,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
		logg:     params.Logger,
		clock:    clock,
		attempts: attempts,
		backoff:  backoff,
	}, nil
}

func (s *service) Consume(ctx context.Context, input ConsumeInput) (*ConsumeResult, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	serviceName := strings.TrimSpace(input.Service)
	if serviceName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "service required")
	}
	now := s.resolveNow(input.Now)
	requestID := strings.TrimSpace(input.RequestID)

	if prior, err := s.ledger.FindByRequestID(ctx, nil, input.UserID, enums.CreditTransactionExpense, requestID); err != nil {
		return nil, err
	} else if prior != nil {
		return s.replayConsume(prior), nil
	}

	var result *ConsumeResult
	created, err := s.mutateWallet(ctx, opConsume, input.UserID, func(tx *gorm.DB, wallet *models.CreditWallet, exists bool) ([]ledger.RecordInput, error) {
		if !exists {
			result = &ConsumeResult{Failure: enums.CreditFailureWalletNotFound}
			return nil, nil
		}
		prior, err := s.ledger.FindByRequestID(ctx, tx, input.UserID, enums.CreditTransactionExpense, requestID)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			result = s.replayConsume(prior)
			return nil, nil
		}
		policy, err := s.activePolicy(ctx, tx, input.UserID, now)
		if err != nil {
			return nil, err
		}

		stored := *wallet
		var entries []ledger.RecordInput
		if policy != nil {
			if entry, ok := recoverInPlace(wallet, *policy, now); ok {
				entries = append(entries, entry)
			}
		}

		plan := PlanConsumption(*wallet, policy, input.Amount, now)
		if !plan.OK() {
			// A refused consume leaves the stored wallet as it was.
			*wallet = stored
			result = &ConsumeResult{
				Failure:            plan.Failure,
				PackageBalance:     wallet.PackageTokensRemaining,
				IndependentBalance: wallet.IndependentTokens,
				RemainingToday:     plan.RemainingToday,
			}
			return nil, nil
		}

		before := balancesOf(*wallet)
		applyConsumption(wallet, policy, plan, now)
		bucket := enums.CreditBucketIndependent
		if plan.PackagePortion > 0 {
			bucket = enums.CreditBucketPackage
		}
		metadata := make(map[string]any, len(input.Metadata)+3)
		for key, value := range input.Metadata {
			metadata[key] = value
		}
		metadata["service"] = serviceName
		metadata["package_portion"] = plan.PackagePortion
		metadata["independent_portion"] = plan.IndependentPortion

		entries = append(entries, ledger.RecordInput{
			UserID:    input.UserID,
			Type:      enums.CreditTransactionExpense,
			Bucket:    bucket,
			Points:    input.Amount,
			Before:    before,
			After:     balancesOf(*wallet),
			Reason:    reasonConsumptionPrefix + serviceName,
			Metadata:  metadata,
			RequestID: optionalString(requestID),
			CreatedAt: now,
		})

		result = &ConsumeResult{
			Success:            true,
			PackageUsed:        plan.PackagePortion,
			IndependentUsed:    plan.IndependentPortion,
			PackageBalance:     wallet.PackageTokensRemaining,
			IndependentBalance: wallet.IndependentTokens,
		}
		if policy != nil {
			remaining := policy.DailyUsageLimit - wallet.DailyUsageCount
			if remaining < 0 {
				remaining = 0
			}
			result.RemainingToday = &remaining
		}
		return entries, nil
	})
	if err != nil {
		if requestID != "" && db.IsUniqueViolation(err, requestIDConstraint) {
			prior, lookupErr := s.ledger.FindByRequestID(ctx, nil, input.UserID, enums.CreditTransactionExpense, requestID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if prior != nil {
				return s.replayConsume(prior), nil
			}
		}
		if errors.Is(err, errRetriesExhausted) {
			s.observe(opConsume, enums.CreditFailureConflict)
			return &ConsumeResult{Failure: enums.CreditFailureConflict}, nil
		}
		return nil, err
	}

	if result.Replayed {
		return result, nil
	}
	if result.Success {
		result.Transaction = lastEntry(created)
		s.metrics.AddPoints(opConsume, string(enums.CreditBucketPackage), result.PackageUsed)
		s.metrics.AddPoints(opConsume, string(enums.CreditBucketIndependent), result.IndependentUsed)
	}
	s.observe(opConsume, result.Failure)
	return result, nil
}

func (s *service) replayConsume(prior *models.CreditTransaction) *ConsumeResult {
	s.metrics.ObserveOutcome(opConsume, "replayed")
	return &ConsumeResult{
		Success:            true,
		Replayed:           true,
		PackageUsed:        prior.BeforePackageTokens - prior.AfterPackageTokens,
		IndependentUsed:    prior.BeforeIndependentTokens - prior.AfterIndependentTokens,
		PackageBalance:     prior.AfterPackageTokens,
		IndependentBalance: prior.AfterIndependentTokens,
		Transaction:        prior,
	}
}

func (s *service) Recover(ctx context.Context, userID uuid.UUID, now time.Time) (*RecoverResult, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	now = s.resolveNow(now)

	var result *RecoverResult
	created, err := s.mutateWallet(ctx, opRecover, userID, func(tx *gorm.DB, wallet *models.CreditWallet, exists bool) ([]ledger.RecordInput, error) {
		if !exists {
			result = &RecoverResult{Failure: enums.CreditFailureWalletNotFound}
			return nil, nil
		}
		policy, err := s.activePolicy(ctx, tx, userID, now)
		if err != nil {
			return nil, err
		}
		if policy == nil {
			result = &RecoverResult{Failure: enums.CreditFailureNoActivePackage, NewBalance: wallet.PackageTokensRemaining}
			return nil, nil
		}
		entry, ok := recoverInPlace(wallet, *policy, now)
		result = &RecoverResult{Success: true, NewBalance: wallet.PackageTokensRemaining}
		if !ok {
			return nil, nil
		}
		result.Recovered = entry.Points
		return []ledger.RecordInput{entry}, nil
	})
	if err != nil {
		if errors.Is(err, errRetriesExhausted) {
			s.observe(opRecover, enums.CreditFailureConflict)
			return &RecoverResult{Failure: enums.CreditFailureConflict}, nil
		}
		return nil, err
	}
	if result.Recovered > 0 {
		result.Transaction = lastEntry(created)
		s.metrics.AddPoints(opRecover, string(enums.CreditBucketPackage), result.Recovered)
	}
	s.observe(opRecover, result.Failure)
	return result, nil
}

func (s *service) ManualReset(ctx context.Context, userID uuid.UUID, now time.Time) (*ManualResetResult, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	now = s.resolveNow(now)

	var result *ManualResetResult
	created, err := s.mutateWallet(ctx, opManualReset, userID, func(tx *gorm.DB, wallet *models.CreditWallet, exists bool) ([]ledger.RecordInput, error) {
		if !exists {
			result = &ManualResetResult{Failure: enums.CreditFailureWalletNotFound}
			return nil, nil
		}
		policy, err := s.activePolicy(ctx, tx, userID, now)
		if err != nil {
			return nil, err
		}

		stored := *wallet
		var entries []ledger.RecordInput
		if policy != nil {
			if entry, ok := recoverInPlace(wallet, *policy, now); ok {
				entries = append(entries, entry)
			}
		}

		plan := PlanManualReset(*wallet, policy, now)
		if !plan.OK() {
			*wallet = stored
			result = &ManualResetResult{
				Failure:              plan.Failure,
				NewBalance:           plan.NewBalance,
				ResetsRemainingToday: plan.ResetsRemainingToday,
				NextAvailableAtUTC:   plan.NextAvailableAtUTC,
			}
			return nil, nil
		}

		before := balancesOf(*wallet)
		applyManualReset(wallet, plan, now)
		entries = append(entries, ledger.RecordInput{
			UserID:    userID,
			Type:      enums.CreditTransactionReset,
			Bucket:    enums.CreditBucketPackage,
			Points:    plan.ResetAmount,
			Before:    before,
			After:     balancesOf(*wallet),
			Reason:    reasonManualReset,
			CreatedAt: now,
		})
		result = &ManualResetResult{
			Success:              true,
			ResetAmount:          plan.ResetAmount,
			NewBalance:           plan.NewBalance,
			ResetsRemainingToday: plan.ResetsRemainingToday,
			NextAvailableAtUTC:   plan.NextAvailableAtUTC,
		}
		return entries, nil
	})
	if err != nil {
		if errors.Is(err, errRetriesExhausted) {
			s.observe(opManualReset, enums.CreditFailureConflict)
			return &ManualResetResult{Failure: enums.CreditFailureConflict}, nil
		}
		return nil, err
	}
	if result.Success {
		result.Transaction = lastEntry(created)
		s.metrics.AddPoints(opManualReset, string(enums.CreditBucketPackage), result.ResetAmount)
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"user_id":                userID.String(),
				"reset_amount":           result.ResetAmount,
				"resets_remaining_today": result.ResetsRemainingToday,
			})
			s.logg.Info(logCtx, "manual reset applied")
		}
	}
	s.observe(opManualReset, result.Failure)
	return result, nil
}

func (s *service) GrantPackage(ctx context.Context, input GrantPackageInput) (*GrantPackageResult, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if strings.TrimSpace(input.PlanCode) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan code required")
	}
	if err := validatePolicy(input.Policy); err != nil {
		return nil, err
	}
	now := s.resolveNow(input.Now)
	startsAt := input.StartsAt
	if startsAt.IsZero() {
		startsAt = now
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(startsAt) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "expires_at must be after starts_at")
	}
	orderID := strings.TrimSpace(input.OrderID)

	if existing, err := s.findGrantByOrder(ctx, orderID); err != nil {
		return nil, err
	} else if existing != nil {
		return s.replayGrant(ctx, existing)
	}

	var result *GrantPackageResult
	created, err := s.mutateWallet(ctx, opGrant, input.UserID, func(tx *gorm.DB, wallet *models.CreditWallet, exists bool) ([]ledger.RecordInput, error) {
		grantRepo := s.grants.WithTx(tx)
		previous, err := grantRepo.FindActive(ctx, input.UserID, now)
		if err != nil {
			return nil, err
		}
		if previous != nil {
			if err := grantRepo.UpdateStatus(ctx, previous.ID, enums.CreditGrantCanceled); err != nil {
				return nil, err
			}
		}

		grant := &models.CreditGrant{
			UserID:              input.UserID,
			PlanCode:            strings.TrimSpace(input.PlanCode),
			Status:              enums.CreditGrantActive,
			CreditCap:           input.Policy.CreditCap,
			RecoveryRatePerHour: input.Policy.RecoveryRatePerHour,
			DailyUsageLimit:     input.Policy.DailyUsageLimit,
			ManualResetsPerDay:  input.Policy.ManualResetsPerDay,
			StartsAt:            startsAt.UTC(),
			ExpiresAt:           input.ExpiresAt,
			OrderID:             optionalString(orderID),
		}
		if err := grantRepo.Create(ctx, grant); err != nil {
			return nil, err
		}

		if !exists {
			wallet.DailyUsageResetAt = startOfUTCDay(now)
		}
		before := balancesOf(*wallet)
		delta := grant.CreditCap - before.PackageTokens
		if delta != 0 {
			wallet.PackageTokensRemaining = grant.CreditCap
			wallet.LastRecoveryAt = now
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCreditPackageGranted,
			AggregateType: enums.AggregateCreditGrant,
			AggregateID:   grant.ID,
			OccurredAt:    now,
			Data: payloads.CreditPackageGrantedEvent{
				GrantID:             grant.ID,
				UserID:              grant.UserID,
				PlanCode:            grant.PlanCode,
				OrderID:             grant.OrderID,
				CreditCap:           grant.CreditCap,
				RecoveryRatePerHour: grant.RecoveryRatePerHour,
				DailyUsageLimit:     grant.DailyUsageLimit,
				ManualResetsPerDay:  grant.ManualResetsPerDay,
				ExpiresAt:           grant.ExpiresAt,
			},
		}); err != nil {
			return nil, err
		}

		result = &GrantPackageResult{
			Success:        true,
			GrantID:        grant.ID,
			PackageBalance: wallet.PackageTokensRemaining,
		}
		entryType, points := enums.CreditTransactionIncome, delta
		switch {
		case delta == 0:
			return nil, nil
		case delta > 0:
			result.Granted = delta
		default:
			// A smaller plan trims the bucket down to its cap.
			result.Revoked = -delta
			entryType, points = enums.CreditTransactionExpense, -delta
		}
		return []ledger.RecordInput{{
			UserID:    input.UserID,
			Type:      entryType,
			Bucket:    enums.CreditBucketPackage,
			Points:    points,
			Before:    before,
			After:     balancesOf(*wallet),
			Reason:    reasonPackageGrant,
			Metadata:  map[string]any{"plan_code": grant.PlanCode, "grant_id": grant.ID.String()},
			OrderID:   grant.OrderID,
			CreatedAt: now,
		}}, nil
	})
	if err != nil {
		if orderID != "" && db.IsUniqueViolation(err, "ux_credit_grants_order") {
			existing, lookupErr := s.findGrantByOrder(ctx, orderID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if existing != nil {
				return s.replayGrant(ctx, existing)
			}
		}
		if errors.Is(err, errRetriesExhausted) {
			s.observe(opGrant, enums.CreditFailureConflict)
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "wallet busy, retry")
		}
		return nil, err
	}
	result.Transaction = lastEntry(created)
	s.metrics.AddPoints(opGrant, string(enums.CreditBucketPackage), result.Granted)
	s.observe(opGrant, enums.CreditFailureNone)
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"user_id":   input.UserID.String(),
			"grant_id":  result.GrantID.String(),
			"plan_code": input.PlanCode,
		})
		s.logg.Info(logCtx, "credit package granted")
	}
	return result, nil
}

func (s *service) replayGrant(ctx context.Context, grant *models.CreditGrant) (*GrantPackageResult, error) {
	s.metrics.ObserveOutcome(opGrant, "replayed")
	result := &GrantPackageResult{Success: true, Replayed: true, GrantID: grant.ID}
	if grant.OrderID == nil {
		return result, nil
	}
	entry, err := s.ledger.FindByOrderID(ctx, nil, grant.UserID, enums.CreditTransactionIncome, *grant.OrderID)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		result.Granted = entry.Points
	} else {
		// Refund entries share the order id but come later and carry their own reason.
		entry, err = s.ledger.FindByOrderID(ctx, nil, grant.UserID, enums.CreditTransactionExpense, *grant.OrderID)
		if err != nil {
			return nil, err
		}
		if entry == nil || entry.Reason != reasonPackageGrant {
			return result, nil
		}
		result.Revoked = entry.Points
	}
	result.PackageBalance = entry.AfterPackageTokens
	result.Transaction = entry
	return result, nil
}

func (s *service) AddIndependent(ctx context.Context, input AddIndependentInput) (*BalanceChangeResult, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.Points <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "points must be positive")
	}
	now := s.resolveNow(input.Now)
	orderID := strings.TrimSpace(input.OrderID)
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = reasonIndependentPurchase
	}

	var result *BalanceChangeResult
	created, err := s.mutateWallet(ctx, opAddIndependent, input.UserID, func(tx *gorm.DB, wallet *models.CreditWallet, exists bool) ([]ledger.RecordInput, error) {
		prior, err := s.ledger.FindByOrderID(ctx, tx, input.UserID, enums.CreditTransactionIncome, orderID)
		if err != nil {
			return nil, err
		}
		if prior != nil && prior.Bucket == enums.CreditBucketIndependent {
			s.metrics.ObserveOutcome(opAddIndependent, "replayed")
			result = &BalanceChangeResult{
				Success:            true,
				Replayed:           true,
				PackageBalance:     prior.AfterPackageTokens,
				IndependentBalance: prior.AfterIndependentTokens,
				Transaction:        prior,
			}
			return nil, nil
		}

		if !exists {
			wallet.DailyUsageResetAt = startOfUTCDay(now)
			wallet.LastRecoveryAt = now
		}
		before := balancesOf(*wallet)
		wallet.IndependentTokens += input.Points
		result = &BalanceChangeResult{
			Success:            true,
			PackageBalance:     wallet.PackageTokensRemaining,
			IndependentBalance: wallet.IndependentTokens,
		}
		return []ledger.RecordInput{{
			UserID:    input.UserID,
			Type:      enums.CreditTransactionIncome,
			Bucket:    enums.CreditBucketIndependent,
			Points:    input.Points,
			Before:    before,
			After:     balancesOf(*wallet),
			Reason:    reason,
			Metadata:  input.Metadata,
			OrderID:   optionalString(orderID),
			CreatedAt: now,
		}}, nil
	})
	if err != nil {
		if errors.Is(err, errRetriesExhausted) {
			s.observe(opAddIndependent, enums.CreditFailureConflict)
			return &BalanceChangeResult{Failure: enums.CreditFailureConflict}, nil
		}
		return nil, err
	}
	if result.Replayed {
		return result, nil
	}
	result.Transaction = lastEntry(created)
	s.metrics.AddPoints(opAddIndependent, string(enums.CreditBucketIndependent), input.Points)
	s.observe(opAddIndependent, enums.CreditFailureNone)
	return result, nil
}

func (s *service) Refund(ctx context.Context, input RefundInput) (*RefundResult, error) {
	orderID := strings.TrimSpace(input.OrderID)
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	now := s.resolveNow(input.Now)

	grant, err := s.findGrantByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if grant == nil {
		s.observe(opRefund, enums.CreditFailureNoActivePackage)
		return &RefundResult{Failure: enums.CreditFailureNoActivePackage}, nil
	}
	if grant.Status == enums.CreditGrantRefunded {
		s.metrics.ObserveOutcome(opRefund, "replayed")
		return &RefundResult{Success: true, Replayed: true, GrantID: grant.ID}, nil
	}

	var result *RefundResult
	created, err := s.mutateWallet(ctx, opRefund, grant.UserID, func(tx *gorm.DB, wallet *models.CreditWallet, exists bool) ([]ledger.RecordInput, error) {
		grantRepo := s.grants.WithTx(tx)
		active, err := grantRepo.FindActive(ctx, grant.UserID, now)
		if err != nil {
			return nil, err
		}
		if err := grantRepo.UpdateStatus(ctx, grant.ID, enums.CreditGrantRefunded); err != nil {
			return nil, err
		}

		result = &RefundResult{Success: true, GrantID: grant.ID, PackageBalance: wallet.PackageTokensRemaining}
		var entries []ledger.RecordInput
		if exists && active != nil && active.ID == grant.ID && wallet.PackageTokensRemaining > 0 {
			before := balancesOf(*wallet)
			result.ClearedPoints = wallet.PackageTokensRemaining
			wallet.PackageTokensRemaining = 0
			result.PackageBalance = 0
			entries = append(entries, ledger.RecordInput{
				UserID:    grant.UserID,
				Type:      enums.CreditTransactionExpense,
				Bucket:    enums.CreditBucketPackage,
				Points:    result.ClearedPoints,
				Before:    before,
				After:     balancesOf(*wallet),
				Reason:    reasonRefund,
				OrderID:   grant.OrderID,
				CreatedAt: now,
			})
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCreditPackageRefunded,
			AggregateType: enums.AggregateCreditGrant,
			AggregateID:   grant.ID,
			OccurredAt:    now,
			Data: payloads.CreditPackageRefundedEvent{
				GrantID:       grant.ID,
				UserID:        grant.UserID,
				OrderID:       grant.OrderID,
				ClearedPoints: result.ClearedPoints,
			},
		}); err != nil {
			return nil, err
		}
		return entries, nil
	})
	if err != nil {
		if errors.Is(err, errRetriesExhausted) {
			s.observe(opRefund, enums.CreditFailureConflict)
			return &RefundResult{Failure: enums.CreditFailureConflict, GrantID: grant.ID}, nil
		}
		return nil, err
	}
	result.Transaction = lastEntry(created)
	s.metrics.AddPoints(opRefund, string(enums.CreditBucketPackage), result.ClearedPoints)
	s.observe(opRefund, enums.CreditFailureNone)
	return result, nil
}

// Balance projects pending recovery and the daily window rollover onto the
// stored wallet without writing anything.
func (s *service) Balance(ctx context.Context, userID uuid.UUID, now time.Time) (*BalanceView, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	now = s.resolveNow(now)
	wallet, err := s.wallets.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, pkgerrors.New(pkgerrors.CodeWalletNotFound, "credit wallet not found")
	}
	policy, err := s.activePolicy(ctx, nil, userID, now)
	if err != nil {
		return nil, err
	}

	view := &BalanceView{
		UserID:            userID,
		PackageTokens:     wallet.PackageTokensRemaining,
		IndependentTokens: wallet.IndependentTokens,
		DailyUsageCount:   usageToday(*wallet, now),
		Policy:            policy,
		Version:           wallet.Version,
		AsOf:              now,
	}
	if policy == nil {
		return view, nil
	}

	recovery := CalculateRecovery(wallet.PackageTokensRemaining, *policy, wallet.LastRecoveryAt, now)
	view.PendingRecovery = recovery.Recovered
	view.PackageTokens = recovery.NewBalance
	remaining := policy.DailyUsageLimit - view.DailyUsageCount
	if remaining < 0 {
		remaining = 0
	}
	view.RemainingToday = &remaining
	resets := policy.ManualResetsPerDay - resetsUsedToday(*wallet, now)
	if resets < 0 {
		resets = 0
	}
	view.ResetsRemainingToday = &resets
	return view, nil
}

// walletMutation computes the new wallet state in place and returns the ledger
// entries describing it. Returning no entries and leaving the wallet unchanged
// skips the write; a changed wallet with no entries is rejected.
type walletMutation func(tx *gorm.DB, wallet *models.CreditWallet, exists bool) ([]ledger.RecordInput, error)

// mutateWallet runs fn against a fresh read of the wallet and commits the
// result conditioned on the version it read. A lost race re-reads and retries
// with linear backoff until the attempts run out.
func (s *service) mutateWallet(ctx context.Context, operation string, userID uuid.UUID, fn walletMutation) ([]*models.CreditTransaction, error) {
	for attempt := 1; ; attempt++ {
		var created []*models.CreditTransaction
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			created = nil
			repo := s.wallets.WithTx(tx)
			current, err := repo.FindByUserID(ctx, userID)
			if err != nil {
				return err
			}
			exists := current != nil
			wallet := models.CreditWallet{UserID: userID}
			if exists {
				wallet = *current
			}

			entries, err := fn(tx, &wallet, exists)
			if err != nil {
				return err
			}
			switch {
			case !exists && len(entries) == 0:
				return nil
			case !exists:
				if err := repo.Create(ctx, &wallet); err != nil {
					if db.IsUniqueViolation(err, walletPKConstraint) {
						return errVersionConflict
					}
					return err
				}
			case len(entries) == 0 && wallet == *current:
				return nil
			case len(entries) == 0:
				return fmt.Errorf("%s: %w", operation, errUnrecordedChange)
			default:
				ok, err := repo.UpdateWithVersion(ctx, &wallet, current.Version)
				if err != nil {
					return err
				}
				if !ok {
					return errVersionConflict
				}
			}

			for _, input := range entries {
				entry, err := s.ledger.Record(ctx, tx, input)
				if err != nil {
					return err
				}
				created = append(created, entry)
			}
			return nil
		})
		if !errors.Is(err, errVersionConflict) {
			return created, err
		}
		if attempt >= s.attempts {
			if s.logg != nil {
				logCtx := s.logg.WithFields(ctx, map[string]any{
					"user_id":   userID.String(),
					"operation": operation,
					"attempts":  attempt,
				})
				s.logg.Warn(logCtx, "wallet update retries exhausted")
			}
			return nil, errRetriesExhausted
		}
		s.metrics.IncConflictRetry(operation)
		if err := sleepContext(ctx, time.Duration(attempt)*s.backoff); err != nil {
			return nil, err
		}
	}
}

// recoverInPlace applies pending recovery to wallet and returns the matching
// ledger entry. It reports false when nothing was recovered, in which case
// the wallet is untouched.
func recoverInPlace(wallet *models.CreditWallet, policy grants.Policy, now time.Time) (ledger.RecordInput, bool) {
	recovery := CalculateRecovery(wallet.PackageTokensRemaining, policy, wallet.LastRecoveryAt, now)
	if recovery.Recovered <= 0 {
		return ledger.RecordInput{}, false
	}
	before := balancesOf(*wallet)
	wallet.PackageTokensRemaining = recovery.NewBalance
	wallet.LastRecoveryAt = now
	return ledger.RecordInput{
		UserID:    wallet.UserID,
		Type:      enums.CreditTransactionIncome,
		Bucket:    enums.CreditBucketPackage,
		Points:    recovery.Recovered,
		Before:    before,
		After:     balancesOf(*wallet),
		Reason:    reasonAutoRecovery,
		CreatedAt: now,
	}, true
}

func (s *service) activePolicy(ctx context.Context, tx *gorm.DB, userID uuid.UUID, now time.Time) (*grants.Policy, error) {
	grant, err := s.grants.WithTx(tx).FindActive(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	return grants.SnapshotOf(grant), nil
}

func (s *service) findGrantByOrder(ctx context.Context, orderID string) (*models.CreditGrant, error) {
	if orderID == "" {
		return nil, nil
	}
	return s.grants.FindByOrderID(ctx, orderID)
}

func (s *service) resolveNow(now time.Time) time.Time {
	if now.IsZero() {
		now = s.clock()
	}
	return now.UTC()
}

func (s *service) observe(operation string, failure enums.CreditFailure) {
	outcome := "success"
	if failure != enums.CreditFailureNone {
		outcome = string(failure)
	}
	s.metrics.ObserveOutcome(operation, outcome)
}

func validatePolicy(policy grants.Policy) error {
	if policy.CreditCap <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "credit cap must be positive")
	}
	if policy.RecoveryRatePerHour < 0 || policy.DailyUsageLimit < 0 || policy.ManualResetsPerDay < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "policy values must not be negative")
	}
	return nil
}

func balancesOf(wallet models.CreditWallet) ledger.Balances {
	return ledger.Balances{
		PackageTokens:     wallet.PackageTokensRemaining,
		IndependentTokens: wallet.IndependentTokens,
	}
}

func lastEntry(entries []*models.CreditTransaction) *models.CreditTransaction {
	if len(entries) == 0 {
		return nil
	}
	return entries[len(entries)-1]
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
