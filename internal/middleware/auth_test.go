package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroom-messaging/internal/models"
)

var testSecret = []byte("auth-test-secret")

func signToken(t *testing.T, secret []byte, userID int, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": userID,
		"role":   role,
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestParseTokenExtractsIdentity(t *testing.T) {
	token := signToken(t, testSecret, 7, "parent")

	identity, err := ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, models.Identity{UserID: 7, Role: models.RoleParent}, identity)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token := signToken(t, []byte("other-secret"), 7, "parent")

	_, err := ParseToken(token, testSecret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": 7,
		"role":   "parent",
		"exp":    time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)

	_, err = ParseToken(signed, testSecret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseTokenRejectsMissingUserID(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role": "parent",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)

	_, err = ParseToken(signed, testSecret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func setupAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Auth(testSecret))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"userId": c.GetInt(ContextUserID),
			"role":   c.GetString(ContextRole),
		})
	})
	return r
}

func TestAuthSetsIdentityOnContext(t *testing.T) {
	router := setupAuthRouter()

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, 4, "teacher"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"userId":4,"role":"teacher"}`, rec.Body.String())
}

func TestAuthRejectsMissingHeader(t *testing.T) {
	router := setupAuthRouter()

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsMalformedHeader(t *testing.T) {
	router := setupAuthRouter()

	for _, header := range []string{"Token abc", "Bearer", signToken(t, testSecret, 4, "teacher")} {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestAuthRejectsBadToken(t *testing.T) {
	router := setupAuthRouter()

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
