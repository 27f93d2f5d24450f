package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-admin-api/internal/auth"
)

type responseEnvelope struct {
	Data       json.RawMessage        `json:"data"`
	Error      map[string]interface{} `json:"error"`
	Pagination map[string]interface{} `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func withSession(c *gin.Context, userID string, perms ...string) {
	sess := &auth.Session{UserID: userID, Permissions: perms}
	c.Request = c.Request.WithContext(auth.WithSession(c.Request.Context(), sess))
}

func decode(w *httptest.ResponseRecorder) responseEnvelope {
	var env responseEnvelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return env
}
