package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/creditwallet-backend/pkg/errors"
	"github.com/angelmondragon/creditwallet-backend/pkg/pagination"
)

type consumeBody struct {
	Amount  int64  `json:"amount" validate:"gt=0"`
	Service string `json:"service" validate:"required,max=64,code"`
	OrderID string `json:"order_id" validate:"omitempty,notblank"`
}

func TestDecodeJSONBodyValidatesTags(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":0,"service":""}`))
	var body consumeBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details := typed.Details().(map[string]string)
	require.Equal(t, "must be greater than 0", details["amount"])
	require.Equal(t, "is required", details["service"])
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":1,"service":"chat","extra":true}`))
	var body consumeBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)
	require.Equal(t, map[string]any{"field": "extra"}, pkgerrors.As(err).Details())
}

func TestCustomTags(t *testing.T) {
	cases := map[string]struct {
		body  string
		field string
		want  string
	}{
		"uppercase service": {body: `{"amount":1,"service":"Image Gen"}`, field: "service", want: "must be lowercase letters, digits, '_', '.', ':' or '-'"},
		"blank order":       {body: `{"amount":1,"service":"image","order_id":"   "}`, field: "order_id", want: "must not be blank"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var body consumeBody
			err := DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body)), &body)
			require.Error(t, err)
			require.Equal(t, tc.want, pkgerrors.As(err).Details().(map[string]string)[tc.field])
		})
	}

	var ok consumeBody
	require.NoError(t, DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":1,"service":"image.v2:hd"}`)), &ok))
}

func TestDecodeJSONBodyErrors(t *testing.T) {
	cases := map[string]struct {
		body string
		msg  string
	}{
		"empty":     {body: "", msg: "request body required"},
		"two docs":  {body: `{"amount":1,"service":"a"}{"amount":2}`, msg: "single JSON object"},
		"bad type":  {body: `{"amount":"ten","service":"a"}`, msg: "wrong type for field"},
		"malformed": {body: `{"amount":1,`, msg: "truncated"},
		"oversized": {body: `{"amount":1,"service":"` + strings.Repeat("a", MaxBodyBytes) + `"}`, msg: "larger than 65536 bytes"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var body consumeBody
			err := DecodeJSONBody(req, &body)
			require.Error(t, err)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			require.Equal(t, pkgerrors.CodeValidation, typed.Code())
			require.Contains(t, typed.Message(), tc.msg)
		})
	}
}

func TestParseQueryIntBounds(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=50", nil)
	v, err := ParseQueryInt(req, "limit", 25, 1, 100)
	require.NoError(t, err)
	require.Equal(t, 50, v)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	v, err = ParseQueryInt(req, "limit", 25, 1, 100)
	require.NoError(t, err)
	require.Equal(t, 25, v)

	req = httptest.NewRequest(http.MethodGet, "/?limit=500", nil)
	_, err = ParseQueryInt(req, "limit", 25, 1, 100)
	require.Error(t, err)
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	rc := chi.NewRouteContext()
	rc.URLParams.Add("userId", id.String())
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))

	got, err := ParseUUIDParam(req, "userId")
	require.NoError(t, err)
	require.Equal(t, id, got)

	_, err = ParseUUIDParam(req, "missing")
	require.Error(t, err)
}

func TestSanitizeString(t *testing.T) {
	require.Equal(t, "abc", SanitizeString("  abcdef ", 3))
	require.Equal(t, "abc", SanitizeString("abc", 0))
	require.Equal(t, "chatbot", SanitizeString("chat\x00bot\n", 0))
	// "é" is two bytes; a cap landing inside it drops the whole rune
	require.Equal(t, "caf", SanitizeString("café", 4))
}

func TestParsePage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	params, err := ParsePage(req)
	require.NoError(t, err)
	require.Equal(t, pagination.DefaultLimit, params.Limit)
	require.Empty(t, params.Cursor)

	cursor := pagination.EncodeCursor(pagination.Cursor{CreatedAt: time.Unix(1700000000, 0).UTC(), ID: uuid.New()})
	req = httptest.NewRequest(http.MethodGet, "/?limit=10&cursor="+cursor, nil)
	params, err = ParsePage(req)
	require.NoError(t, err)
	require.Equal(t, 10, params.Limit)
	require.Equal(t, cursor, params.Cursor)

	req = httptest.NewRequest(http.MethodGet, "/?cursor=%21%21", nil)
	_, err = ParsePage(req)
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}
