package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeRendering(t *testing.T) {
	cases := map[Code]Metadata{
		CodeValidation:         {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true, ExposeMessage: true},
		CodeUnauthorized:       {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required", ExposeMessage: true},
		CodeIdempotency:        {HTTPStatus: http.StatusConflict, PublicMessage: "idempotency key reused", DetailsAllowed: true, ExposeMessage: true},
		CodeRateLimit:          {HTTPStatus: http.StatusTooManyRequests, PublicMessage: "rate limit exceeded", ExposeMessage: true},
		CodeInternal:           {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "internal server error"},
		CodeDependency:         {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, PublicMessage: "dependency unavailable", DetailsAllowed: true},
		CodeNoActivePackage:    {HTTPStatus: http.StatusConflict, PublicMessage: "no active credit package", DetailsAllowed: true, ExposeMessage: true},
		CodeAlreadyAtCap:       {HTTPStatus: http.StatusConflict, PublicMessage: "package credits already at cap", DetailsAllowed: true, ExposeMessage: true},
		CodeLimitReached:       {HTTPStatus: http.StatusTooManyRequests, PublicMessage: "manual reset limit reached", DetailsAllowed: true, ExposeMessage: true},
		CodeDailyLimitReached:  {HTTPStatus: http.StatusTooManyRequests, PublicMessage: "daily usage limit reached", DetailsAllowed: true, ExposeMessage: true},
		CodeInsufficientCredit: {HTTPStatus: http.StatusPaymentRequired, PublicMessage: "insufficient credits", DetailsAllowed: true, ExposeMessage: true},
		CodeWalletNotFound:     {HTTPStatus: http.StatusNotFound, PublicMessage: "credit wallet not found", DetailsAllowed: true, ExposeMessage: true},
	}

	for code, want := range cases {
		t.Run(string(code), func(t *testing.T) {
			assert.Equal(t, want, MetadataFor(code))
		})
	}

	t.Run("unknown", func(t *testing.T) {
		assert.Equal(t, MetadataFor(CodeInternal), MetadataFor("SOMETHING_UNKNOWN"))
	})
}

func TestServerSideCodesHideCallerMessages(t *testing.T) {
	for code, meta := range metadataByCode {
		if meta.HTTPStatus >= http.StatusInternalServerError {
			assert.Falsef(t, meta.ExposeMessage, "%s exposes its message", code)
		}
	}
}

func TestWrapKeepsCauseAndDetails(t *testing.T) {
	cause := stdErrors.New("version mismatch")
	err := Wrap(CodeConflict, cause, "save wallet").WithDetails(map[string]any{"wallet_id": "w-1"})

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeConflict, err.Code())
	assert.Equal(t, "save wallet", err.Message())
	assert.Equal(t, map[string]any{"wallet_id": "w-1"}, err.Details())
	assert.EqualError(t, err, "CONFLICT: save wallet: version mismatch")

	plain := Wrap(CodeValidation, nil, "amount must be positive")
	assert.Nil(t, plain.Unwrap())
	assert.Nil(t, plain.Details())
	assert.EqualError(t, plain, "VALIDATION_ERROR: amount must be positive")
}

func TestNilErrorIsSafe(t *testing.T) {
	var e *Error
	assert.Equal(t, CodeInternal, e.Code())
	assert.Empty(t, e.Message())
	assert.Nil(t, e.WithDetails("x"))
	assert.Nil(t, As(nil))
	assert.Nil(t, As(stdErrors.New("untyped")))
}

func TestCodeMatchingThroughWrapping(t *testing.T) {
	err := fmt.Errorf("consume: %w", Wrap(CodeDependency, stdErrors.New("redis down"), "rate limit"))

	assert.ErrorIs(t, err, New(CodeDependency, ""))
	assert.NotErrorIs(t, err, New(CodeInternal, ""))
	assert.EqualError(t, err, "consume: DEPENDENCY_ERROR: rate limit: redis down")

	typed := As(err)
	require.NotNil(t, typed)
	assert.Equal(t, CodeDependency, typed.Code())
}

func TestDump(t *testing.T) {
	t.Run("postgres diagnostics", func(t *testing.T) {
		pgErr := &pgconn.PgError{
			Code:           "23505",
			ConstraintName: "ux_credit_transactions_request",
			TableName:      "credit_transactions",
			Message:        "duplicate key value violates unique constraint",
		}
		d := Dump(Wrap(CodeInternal, fmt.Errorf("insert ledger entry: %w", pgErr), "record credit transaction"))

		assert.Equal(t, CodeInternal, d.Code)
		assert.True(t, d.Retryable)
		assert.Len(t, d.Chain, 3)
		require.NotNil(t, d.PG)
		assert.Equal(t, "23505", d.PG.Code)
		assert.Equal(t, "ux_credit_transactions_request", d.PG.Constraint)
	})

	t.Run("lib/pq diagnostics", func(t *testing.T) {
		pqErr := &pq.Error{Code: "40001", Table: "credit_wallets", Message: "could not serialize access"}
		d := Dump(fmt.Errorf("apply migration: %w", pqErr))

		assert.Empty(t, d.Code)
		assert.False(t, d.Retryable)
		require.NotNil(t, d.PG)
		assert.Equal(t, "40001", d.PG.Code)
		assert.Equal(t, "credit_wallets", d.PG.Table)
	})

	t.Run("no postgres", func(t *testing.T) {
		fields := Dump(New(CodeDependency, "redis down")).Fields()

		assert.NotContains(t, fields, "pg_code")
		assert.Equal(t, CodeDependency, fields["error_code"])
		assert.Equal(t, true, fields["retryable"])
	})
}
