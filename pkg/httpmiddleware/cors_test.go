package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func corsRequest(h http.Handler, method, origin string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/shipping/delivery-dates", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCORS_AllowList(t *testing.T) {
	h := CORS(CORSConfig{
		AllowOrigins:  []string{"https://Shop.example.com"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        600,
	})(okHandler())

	w := corsRequest(h, http.MethodGet, "https://shop.example.com")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://Shop.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "X-Request-ID", w.Header().Get("Access-Control-Expose-Headers"))
	assert.Contains(t, w.Header().Values("Vary"), "Origin")

	w = corsRequest(h, http.MethodGet, "https://evil.example.com")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = corsRequest(h, http.MethodGet, "")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Values("Vary"), "Origin")
}

func TestCORS_Preflight(t *testing.T) {
	h := CORS(CORSConfig{AllowOrigins: []string{"https://shop.example.com"}, MaxAge: 600})(okHandler())

	w := corsRequest(h, http.MethodOptions, "https://shop.example.com",
		"Access-Control-Request-Method", "GET",
		"Access-Control-Request-Headers", "X-Request-ID",
	)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://shop.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, HEAD, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "X-Request-ID", w.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
	assert.ElementsMatch(t,
		[]string{"Origin", "Access-Control-Request-Method", "Access-Control-Request-Headers"},
		w.Header().Values("Vary"),
	)

	w = corsRequest(h, http.MethodOptions, "https://evil.example.com", "Access-Control-Request-Method", "GET")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Wildcard(t *testing.T) {
	h := CORS(CORSConfig{})(okHandler())
	w := corsRequest(h, http.MethodGet, "https://any.example.com")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Values("Vary"))

	// Credentials forbid "*", so the origin is echoed.
	h = CORS(CORSConfig{AllowOrigins: []string{"*"}, AllowCredentials: true})(okHandler())
	w = corsRequest(h, http.MethodGet, "https://any.example.com")
	assert.Equal(t, "https://any.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Values("Vary"), "Origin")
}
