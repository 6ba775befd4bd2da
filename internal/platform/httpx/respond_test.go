package httpx

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	var target struct {
		Note string `json:"note"`
	}
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"note":"ok"}`))
	require.NoError(t, DecodeJSON(req, &target))
	require.Equal(t, "ok", target.Note)
}

func TestDecodeJSONCapsBody(t *testing.T) {
	// A body past the cap gets truncated mid-document and fails to decode.
	body := `{"note":"` + strings.Repeat("a", maxDecodeBytes) + `"}`
	var target struct {
		Note string `json:"note"`
	}
	req := httptest.NewRequest("POST", "/", strings.NewReader(body))
	require.Error(t, DecodeJSON(req, &target))
}
