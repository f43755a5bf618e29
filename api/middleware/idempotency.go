package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/creditwallet-backend/api/responses"
	pkgerrors "github.com/angelmondragon/creditwallet-backend/pkg/errors"
	"github.com/angelmondragon/creditwallet-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/creditwallet-backend/pkg/redis"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"

	defaultReplayTTL = 24 * time.Hour
	// pendingTTL bounds how long a crashed request can block its key.
	pendingTTL       = 2 * time.Minute
)

// IdempotencyPolicy configures replay for one route. A zero TTL uses the
// Replayer default.
type IdempotencyPolicy struct {
	Required bool
	TTL      time.Duration
}

var (
	// OptionalKey engages only when the caller sends Idempotency-Key.
	OptionalKey = IdempotencyPolicy{}
	// RequiredKey is for admin writes that move credits: grant, independent
	// top-up and refund.
	RequiredKey = IdempotencyPolicy{Required: true, TTL: 7 * 24 * time.Hour}
)

const (
	statePending  = "pending"
	stateComplete = "complete"
)

// storedResponse is the JSON document kept under an idempotency key. A
// pending entry holds only the request hash.
type storedResponse struct {
	State       string `json:"state"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Replayer stores responses keyed by caller, route and Idempotency-Key.
type Replayer struct {
	store      pkgredis.IdempotencyStore
	defaultTTL time.Duration
	logg       *logger.Logger
}

func NewReplayer(store pkgredis.IdempotencyStore, defaultTTL time.Duration, logg *logger.Logger) *Replayer {
	if defaultTTL <= 0 {
		defaultTTL = defaultReplayTTL
	}
	return &Replayer{store: store, defaultTTL: defaultTTL, logg: logg}
}

// Idempotent replays the stored response for a repeated key and rejects a
// reused key whose body differs. The key is reserved before the handler runs
// so two concurrent duplicates cannot both execute. A 5xx releases the
// reservation so the caller may retry.
func (rp *Replayer) Idempotent(policy IdempotencyPolicy) func(http.Handler) http.Handler {
	ttl := policy.TTL
	if ttl <= 0 {
		ttl = rp.defaultTTL
	}
	return func(next http.Handler) http.Handler {
		if rp.store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			clientKey := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
			switch {
			case clientKey == "" && policy.Required:
				responses.WriteError(ctx, rp.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			case clientKey == "":
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, rp.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			sum := sha256.Sum256(body)
			hash := hex.EncodeToString(sum[:])
			key := rp.store.IdempotencyKey(strings.Join([]string{subject(ctx), r.Method, r.URL.Path}, "|"), clientKey)

			reserved, err := rp.reserve(ctx, key, hash, min(ttl, pendingTTL))
			if err != nil {
				responses.WriteError(ctx, rp.logg, w, err)
				return
			}
			if !reserved {
				rp.replay(ctx, w, key, hash)
				return
			}

			rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			rp.settle(ctx, key, ttl, storedResponse{
				State:       stateComplete,
				RequestHash: hash,
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			})
		})
	}
}

func (rp *Replayer) reserve(ctx context.Context, key, hash string, ttl time.Duration) (bool, error) {
	marker, err := json.Marshal(storedResponse{State: statePending, RequestHash: hash})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode idempotency marker")
	}
	ok, err := rp.store.SetNX(ctx, key, string(marker), ttl)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key")
	}
	return ok, nil
}

// settle replaces the pending marker with the final response, or drops the
// key after a server error.
func (rp *Replayer) settle(ctx context.Context, key string, ttl time.Duration, resp storedResponse) {
	if resp.Status >= http.StatusInternalServerError {
		rp.logFailure(ctx, "release idempotency key", rp.store.Del(ctx, key))
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		rp.logFailure(ctx, "encode idempotency record", err)
		return
	}
	rp.logFailure(ctx, "persist idempotency record", rp.store.Set(ctx, key, string(payload), ttl))
}

func (rp *Replayer) replay(ctx context.Context, w http.ResponseWriter, key, hash string) {
	raw, err := rp.store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil):
		// expired between SetNX and Get
		responses.WriteError(ctx, rp.logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotent request state changed, retry"))
		return
	case err != nil:
		responses.WriteError(ctx, rp.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		responses.WriteError(ctx, rp.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case stored.RequestHash != hash:
		responses.WriteError(ctx, rp.logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case stored.State == statePending:
		responses.WriteError(ctx, rp.logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this idempotency key is still in progress"))
	default:
		if stored.ContentType != "" {
			w.Header().Set("Content-Type", stored.ContentType)
		}
		w.Header().Set(replayedHeader, "true")
		w.WriteHeader(stored.Status)
		_, _ = w.Write(stored.Body)
	}
}

func (rp *Replayer) logFailure(ctx context.Context, msg string, err error) {
	if err != nil && rp.logg != nil {
		rp.logg.Error(ctx, msg, err)
	}
}

// recordingWriter tees the response so it can be stored after the handler
// returns.
type recordingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (w *recordingWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status, w.wroteHeader = code, true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}
