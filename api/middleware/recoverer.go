package middleware

import (
	"fmt"
	"net/http"

	"github.com/angelmondragon/creditwallet-backend/api/responses"
	pkgerrors "github.com/angelmondragon/creditwallet-backend/pkg/errors"
	"github.com/angelmondragon/creditwallet-backend/pkg/logger"
)

// Recoverer converts a handler panic into a 500 envelope and logs it with the
// stack. http.ErrAbortHandler passes through untouched.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				switch {
				case rec == nil:
					return
				case rec == http.ErrAbortHandler:
					panic(rec)
				}

				err := pkgerrors.Wrap(pkgerrors.CodeInternal, fmt.Errorf("%v", rec), "handler panic")
				if logg != nil {
					logg.Error(logg.WithField(r.Context(), "panic", fmt.Sprint(rec)), "panic.recovered", err)
				}
				responses.WriteError(r.Context(), nil, w, err)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
