package catalog

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(store Store) *gin.Engine {
	r := gin.New()
	// Test stand-in for the server's actor middleware.
	r.Use(func(c *gin.Context) {
		c.Set("actorID", c.GetHeader("X-User-ID"))
		c.Set("actorRole", c.GetHeader("X-User-Role"))
	})
	NewHandler(store).RegisterRoutes(&r.RouterGroup)
	return r
}

func do(r *gin.Engine, method, path string, body any, userID string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateAndGetService(t *testing.T) {
	r := newTestRouter(NewMemoryStore())

	w := do(r, "POST", "/services", gin.H{
		"title":          "Deep clean",
		"basePricePence": 6000,
	}, "freelancer_1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var svc Service
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &svc))
	assert.Equal(t, "freelancer_1", svc.FreelancerID)
	assert.True(t, svc.Active)
	assert.NotEmpty(t, svc.ID)

	w = do(r, "GET", "/services/"+svc.ID, nil, "client_1")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateServiceValidation(t *testing.T) {
	r := newTestRouter(NewMemoryStore())

	cases := map[string]gin.H{
		"missing title":    {"basePricePence": 6000},
		"zero price":       {"title": "Clean", "basePricePence": 0},
		"negative travel":  {"title": "Clean", "basePricePence": 6000, "travelPricePence": -5},
		"unknown policy":   {"title": "Clean", "basePricePence": 6000, "materialsPolicy": "nobody"},
	}
	for name, body := range cases {
		w := do(r, "POST", "/services", body, "freelancer_1")
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
	}
}

func TestUpdateServiceOwnership(t *testing.T) {
	store := NewMemoryStore()
	r := newTestRouter(store)

	w := do(r, "POST", "/services", gin.H{"title": "Deep clean", "basePricePence": 6000}, "freelancer_1")
	require.Equal(t, http.StatusCreated, w.Code)
	var svc Service
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &svc))

	// Another freelancer cannot edit it
	w = do(r, "PUT", "/services/"+svc.ID, gin.H{"title": "Hijacked", "basePricePence": 1}, "freelancer_2")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// The owner can deactivate it
	active := false
	w = do(r, "PUT", "/services/"+svc.ID, gin.H{"title": "Deep clean", "basePricePence": 6500, "active": &active}, "freelancer_1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got, err := store.Get(t.Context(), svc.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.EqualValues(t, 6500, got.BasePricePence)
}

func TestListUserServices(t *testing.T) {
	r := newTestRouter(NewMemoryStore())

	for _, title := range []string{"One", "Two"} {
		w := do(r, "POST", "/services", gin.H{"title": title, "basePricePence": 1000}, "freelancer_1")
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := do(r, "GET", "/users/freelancer_1/services", nil, "client_1")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}
