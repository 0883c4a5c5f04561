package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fitsync/fitsync/internal/models"
	"github.com/fitsync/fitsync/internal/ratelimit"
	"github.com/fitsync/fitsync/internal/repository"
	"github.com/fitsync/fitsync/internal/service"
	"github.com/fitsync/fitsync/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newAdmissionRouter(t *testing.T, tierLimit int) (*gin.Engine, *repository.TierRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.SubjectTier{}))

	tierRepo := repository.NewTierRepository(&storage.Postgres{DB: db})
	tiers := service.NewTierService(tierRepo, "free")

	governor := ratelimit.NewGovernor(
		storage.NewRedisFromClient(client),
		func(string) int { return tierLimit },
		100000, 100000,
	)

	router := gin.New()
	router.GET("/subjects/:subjectID/activities",
		Admission(governor, tiers, "activities"),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)

	return router, tierRepo
}

func get(router *gin.Engine, subjectID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/subjects/"+subjectID+"/activities", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAdmissionSetsRateHeaders(t *testing.T) {
	router, _ := newAdmissionRouter(t, 10)

	rec := get(router, "subj1")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "free", rec.Header().Get("X-RateLimit-Tier"))

	reset, err := strconv.ParseInt(rec.Header().Get("X-RateLimit-Reset"), 10, 64)
	require.NoError(t, err)
	assert.Greater(t, reset, time.Now().Unix())
}

func TestAdmissionDenialIsStructured(t *testing.T) {
	router, _ := newAdmissionRouter(t, 2)

	require.Equal(t, http.StatusOK, get(router, "subj1").Code)
	require.Equal(t, http.StatusOK, get(router, "subj1").Code)

	rec := get(router, "subj1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `"scope":"tier:subj1:activities"`)
	assert.Contains(t, body, `"tier":"free"`)
	assert.Contains(t, body, `"reset_at"`)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Another subject is unaffected
	assert.Equal(t, http.StatusOK, get(router, "subj2").Code)
}
