package loyalty

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"met-loyalty/pkg/middleware"
	"met-loyalty/services/catalog"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	e := newTestEngine(t)
	r := gin.New()
	r.Use(middleware.Error())
	NewHandler(e.Engine, catalog.NewFixedStore(catalog.Default())).Register(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func errorReason(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	reason, _ := e["reason"].(string)
	return reason
}

func TestHandlerRedemptionFlow(t *testing.T) {
	r := newTestRouter(t)

	code, body := do(t, r, http.MethodPost, "/v1/accounts/u1/points", `{"amount": 600, "description": "promo"}`)
	require.Equal(t, http.StatusCreated, code)
	require.EqualValues(t, 600, body["new_balance"])
	require.Equal(t, true, body["level_changed"])

	code, body = do(t, r, http.MethodPost, "/v1/accounts/u1/redemptions", `{"reward_id": "discount-10"}`)
	require.Equal(t, http.StatusCreated, code)
	require.EqualValues(t, 100, body["new_balance"])
	redemption := body["redemption"].(map[string]any)
	redemptionCode := redemption["code"].(string)

	code, body = do(t, r, http.MethodPost, "/v1/redemptions/"+redemptionCode+"/check", `{"context": {"price": 80}}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["valid"])

	code, body = do(t, r, http.MethodPost, "/v1/redemptions/"+redemptionCode+"/use", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["used"])

	code, body = do(t, r, http.MethodPost, "/v1/redemptions/"+redemptionCode+"/use", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, body["used"])

	code, body = do(t, r, http.MethodPost, "/v1/redemptions/"+redemptionCode+"/check", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, body["valid"])
	require.Equal(t, "CODE_USED", body["reason"])

	code, body = do(t, r, http.MethodGet, "/v1/accounts/u1/redemptions", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["redemptions"], 1)

	code, body = do(t, r, http.MethodGet, "/v1/accounts/u1/verify", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["valid"])
}

func TestHandlerBusinessErrors(t *testing.T) {
	r := newTestRouter(t)

	code, body := do(t, r, http.MethodPost, "/v1/accounts/u1/redemptions", `{"reward_id": "discount-10"}`)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, "INSUFFICIENT_POINTS", errorReason(body))

	code, body = do(t, r, http.MethodPost, "/v1/accounts/u1/redemptions", `{"reward_id": "nope"}`)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "REWARD_NOT_FOUND", errorReason(body))

	code, _ = do(t, r, http.MethodPost, "/v1/accounts/u1/courses/go-101/complete", `{"course_name": "Go 101", "is_first_course": true}`)
	require.Equal(t, http.StatusCreated, code)

	code, body = do(t, r, http.MethodPost, "/v1/accounts/u1/courses/go-101/complete", "")
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "ALREADY_COMPLETED", errorReason(body))

	code, _ = do(t, r, http.MethodPost, "/v1/accounts/u1/daily-login", "")
	require.Equal(t, http.StatusCreated, code)

	code, body = do(t, r, http.MethodPost, "/v1/accounts/u1/daily-login", "")
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "ALREADY_CLAIMED_TODAY", errorReason(body))
}

func TestHandlerValidation(t *testing.T) {
	r := newTestRouter(t)

	code, body := do(t, r, http.MethodGet, "/v1/accounts/u1/discount?price=abc", "")
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "INVALID_ARGUMENT", errorReason(body))

	code, body = do(t, r, http.MethodPost, "/v1/admin/accounts/u1/points/add", `{"amount": -5}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "INVALID_ARGUMENT", errorReason(body))

	code, body = do(t, r, http.MethodPost, "/v1/accounts/u1/points", `{"amount": 10, "kind": "gift"}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "INVALID_ARGUMENT", errorReason(body))

	code, body = do(t, r, http.MethodGet, "/v1/accounts/u1/transactions?limit=-1", "")
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "INVALID_ARGUMENT", errorReason(body))
}

func TestHandlerReads(t *testing.T) {
	r := newTestRouter(t)

	code, body := do(t, r, http.MethodGet, "/v1/catalog/rewards", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["rewards"], 6)

	code, body = do(t, r, http.MethodGet, "/v1/catalog/tiers", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["tiers"], 4)

	code, _ = do(t, r, http.MethodPost, "/v1/admin/accounts/u1/points/add", `{"amount": 320, "description": "migration"}`)
	require.Equal(t, http.StatusCreated, code)

	code, body = do(t, r, http.MethodGet, "/v1/accounts/u1/level", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "plata", body["level"].(map[string]any)["key"])
	require.EqualValues(t, 280, body["points_to_next"])

	code, body = do(t, r, http.MethodGet, "/v1/accounts/u1/discount?price=100", "")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 95, body["final_price"])

	code, body = do(t, r, http.MethodGet, "/v1/accounts/u1/transactions?limit=5", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["transactions"], 1)

	code, body = do(t, r, http.MethodGet, "/v1/accounts/u1", "")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 320, body["available_points"])
}

func TestHandlerGetAccountIsReadOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := newTestEngine(t)
	r := gin.New()
	r.Use(middleware.Error())
	NewHandler(e.Engine, catalog.NewFixedStore(catalog.Default())).Register(r)

	code, body := do(t, r, http.MethodGet, "/v1/accounts/ghost", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "bronce", body["current_level"])
	require.EqualValues(t, 0, body["version"])

	stored, err := e.repo.Load(context.Background(), "ghost")
	require.NoError(t, err)
	require.Nil(t, stored)
}
