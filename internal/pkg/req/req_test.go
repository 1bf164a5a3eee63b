package req

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lfchat/internal/pkg/errs"
)

type loginInput struct {
	Nickname string `json:"nickname"`
}

func newJSONRequest(body, contentType string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set("Content-Type", contentType)
	return r
}

func TestBindJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		code        int
	}{
		{name: "ok", body: `{"nickname":"alice"}`, contentType: "application/json; charset=utf-8"},
		{name: "wrong content type", body: `{"nickname":"alice"}`, contentType: "text/plain", code: errs.ErrUnsupportedMediaType},
		{name: "broken json", body: `{"nickname":`, contentType: "application/json", code: errs.ErrInvalidJSONFormat},
		{name: "unknown field", body: `{"nick":"alice"}`, contentType: "application/json", code: errs.ErrInvalidJSONFormat},
		{name: "trailing data", body: `{"nickname":"a"} {}`, contentType: "application/json", code: errs.ErrExtraContentInBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var in loginInput
			err := BindJSON(newJSONRequest(tt.body, tt.contentType), &in)
			if tt.code == 0 {
				require.Nil(t, err)
				assert.Equal(t, "alice", in.Nickname)
				return
			}
			require.NotNil(t, err)
			assert.Equal(t, tt.code, err.Code)
		})
	}
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=20&offset=-1&bad=x", nil)

	v, err := QueryInt(r, "limit", 50, 1, 100)
	assert.Nil(t, err)
	assert.Equal(t, 20, v)

	v, err = QueryInt(r, "missing", 50, 1, 100)
	assert.Nil(t, err)
	assert.Equal(t, 50, v)

	_, err = QueryInt(r, "offset", 0, 0, 1000)
	assert.NotNil(t, err)

	_, err = QueryInt(r, "bad", 0, 0, 1000)
	assert.NotNil(t, err)
}
