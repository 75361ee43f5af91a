package response

import (
	"html/template"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	JSONResponse(rr, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"unhealthy"}`, rr.Body.String())
}

func TestHTMLResponse(t *testing.T) {
	tmpl := template.Must(template.New("page").Parse(`{{define "page"}}<p>{{.}}</p>{{end}}{{define "broken"}}{{.Missing}}{{end}}`))

	rr := httptest.NewRecorder()
	require.NoError(t, HTMLResponse(rr, http.StatusUnprocessableEntity, tmpl, "page", "<b>"))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "<p>&lt;b&gt;</p>", rr.Body.String())

	rr = httptest.NewRecorder()
	assert.Error(t, HTMLResponse(rr, http.StatusOK, tmpl, "broken", "text"))
	assert.Empty(t, rr.Body.String())
	assert.Empty(t, rr.Header().Get("Content-Type"))
}
