package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chrono-hq/chrono_service/internal/domain/entities"
	apperrors "github.com/chrono-hq/chrono_service/pkg/errors"
)

func testContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) entities.ErrorResponse {
	t.Helper()
	var resp entities.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestGetUserIDAcceptsUUIDAndString(t *testing.T) {
	id := uuid.New()

	c, _ := testContext(t)
	c.Set("user_id", id)
	got, err := getUserID(c)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	c, _ = testContext(t)
	c.Set("user_id", id.String())
	got, err = getUserID(c)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestGetUserIDRejectsMissingOrMalformed(t *testing.T) {
	c, _ := testContext(t)
	_, err := getUserID(c)
	assert.Error(t, err)

	c, _ = testContext(t)
	c.Set("user_id", "not-a-uuid")
	_, err = getUserID(c)
	assert.Error(t, err)
}

func TestRespondAppErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"bad input", apperrors.BadInput("limit out of range"), http.StatusBadRequest, "BAD_INPUT"},
		{"not found", apperrors.NotFound("project"), http.StatusNotFound, "NOT_FOUND"},
		{"forbidden", apperrors.Forbidden("locked"), http.StatusForbidden, "FORBIDDEN"},
		{"rate limit", apperrors.Wrap(apperrors.ErrRateLimit, nil), http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED"},
		{"feature disabled", apperrors.Wrap(apperrors.ErrFeatureDisabled, nil), http.StatusForbidden, "FEATURE_DISABLED"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, w := testContext(t)
			respondAppError(c, zap.NewNop(), tc.err)

			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, decodeError(t, w).Code)
		})
	}
}

func TestRespondAppErrorSurfacesDetails(t *testing.T) {
	c, w := testContext(t)
	err := apperrors.Wrap(apperrors.ErrFeatureDisabled, nil).WithDetail("reason", "disabled by administrator")
	respondAppError(c, zap.NewNop(), err)

	resp := decodeError(t, w)
	assert.Equal(t, "disabled by administrator", resp.Details["reason"])
}

func TestRespondAppErrorHidesInternalCauses(t *testing.T) {
	c, w := testContext(t)
	respondAppError(c, zap.NewNop(), assertableInternal{})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "INTERNAL_ERROR", resp.Code)
	assert.NotContains(t, resp.Message, "sql")
}

type assertableInternal struct{}

func (assertableInternal) Error() string { return "sql: connection refused" }

func TestOptionalUUIDQuery(t *testing.T) {
	id := uuid.New()

	c, _ := testContext(t)
	c.Request = httptest.NewRequest(http.MethodGet, "/?team_id="+id.String(), nil)
	got, err := optionalUUIDQuery(c, "team_id")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, *got)

	c, _ = testContext(t)
	got, err = optionalUUIDQuery(c, "team_id")
	require.NoError(t, err)
	assert.Nil(t, got)

	c, _ = testContext(t)
	c.Request = httptest.NewRequest(http.MethodGet, "/?team_id=nope", nil)
	_, err = optionalUUIDQuery(c, "team_id")
	assert.Equal(t, apperrors.ErrorTypeBadInput, apperrors.GetType(err))
}

func TestQueryIntFallsBack(t *testing.T) {
	c, _ := testContext(t)
	c.Request = httptest.NewRequest(http.MethodGet, "/?days=14&bad=x", nil)

	assert.Equal(t, 14, queryInt(c, "days", 7))
	assert.Equal(t, 7, queryInt(c, "bad", 7))
	assert.Equal(t, 7, queryInt(c, "missing", 7))
}
