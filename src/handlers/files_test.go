package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FractalBrew/file-store/src/drivers/storage"
	"github.com/FractalBrew/file-store/src/middleware"
	"github.com/FractalBrew/file-store/src/services"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestRouter(t *testing.T) (*gin.Engine, string) {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	provider, err := storage.NewLocalStore(t.TempDir(), logger)
	require.NoError(t, err)
	store, err := services.NewFileStore(provider, logger)
	require.NoError(t, err)
	jwtService, err := services.NewJWTService(testSecret, time.Hour, logger)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/healthz", Health())

	files := r.Group("/files")
	files.Use(middleware.Auth(jwtService, logger))
	{
		files.GET("", FilesListHandler(store, logger))
		files.POST("/copy", FilesCopyHandler(store, logger))
		files.GET("/*path", FilesDownloadHandler(store, logger))
		files.HEAD("/*path", FilesStatHandler(store, logger))
		files.PUT("/*path", FilesUploadHandler(store, logger))
		files.DELETE("/*path", FilesDeleteHandler(store, logger))
	}

	token, err := jwtService.Issue("test-client")
	require.NoError(t, err)
	return r, token
}

func doRequest(r *gin.Engine, method, path, token string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGatewayHealthIsPublic(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGatewayRequiresBearerToken(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodGet, "/files/a.txt", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(r, http.MethodGet, "/files/a.txt", "not-a-valid-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGatewayUploadDownloadRoundTrip(t *testing.T) {
	r, token := newTestRouter(t)

	w := doRequest(r, http.MethodPut, "/files/docs/readme.md", token, strings.NewReader("# hello"))
	require.Equal(t, http.StatusCreated, w.Code)

	var created fileResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "docs/readme.md", created.Path)
	assert.Equal(t, int64(7), created.Size)

	w = doRequest(r, http.MethodGet, "/files/docs/readme.md", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# hello", w.Body.String())
}

func TestGatewayStatHeaders(t *testing.T) {
	r, token := newTestRouter(t)

	w := doRequest(r, http.MethodPut, "/files/a.txt", token, strings.NewReader("12345"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(r, http.MethodHead, "/files/a.txt", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "5", w.Header().Get("Content-Length"))

	w = doRequest(r, http.MethodHead, "/files/missing.txt", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGatewayDelete(t *testing.T) {
	r, token := newTestRouter(t)

	w := doRequest(r, http.MethodPut, "/files/a.txt", token, strings.NewReader("x"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(r, http.MethodDelete, "/files/a.txt", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(r, http.MethodDelete, "/files/a.txt", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGatewayList(t *testing.T) {
	r, token := newTestRouter(t)

	for _, name := range []string{"b.txt", "a/1.txt"} {
		w := doRequest(r, http.MethodPut, "/files/"+name, token, strings.NewReader("x"))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doRequest(r, http.MethodGet, "/files?prefix=", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Files []fileResponse `json:"files"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Files, 2)
	assert.Equal(t, "a/1.txt", resp.Files[0].Path)
	assert.Equal(t, "b.txt", resp.Files[1].Path)
}

func TestGatewayCopy(t *testing.T) {
	r, token := newTestRouter(t)

	w := doRequest(r, http.MethodPut, "/files/src.txt", token, strings.NewReader("copy me"))
	require.Equal(t, http.StatusCreated, w.Code)

	body := strings.NewReader(`{"source":"src.txt","destination":"dst.txt"}`)
	w = doRequest(r, http.MethodPost, "/files/copy", token, body)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(r, http.MethodGet, "/files/dst.txt", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "copy me", w.Body.String())
}

func TestGatewayRejectsInvalidPath(t *testing.T) {
	r, token := newTestRouter(t)

	w := doRequest(r, http.MethodPut, "/files/../escape.txt", token, strings.NewReader("x"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
