package feishu

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOpenAPI struct {
	mu     sync.Mutex
	bodies []map[string]any
	fail   bool
}

func (f *fakeOpenAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/open-apis/auth/v3/tenant_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"code":0,"msg":"ok","tenant_access_token":"t-test","expire":7200}`)
	})
	mux.HandleFunc("/open-apis/im/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "chat_id", r.URL.Query().Get("receive_id_type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.bodies = append(f.bodies, body)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if f.fail {
			io.WriteString(w, `{"code":230002,"msg":"bot not in chat"}`)
			return
		}
		io.WriteString(w, `{"code":0,"msg":"success","data":{"message_id":"om_1"}}`)
	})
	return mux
}

func TestSendText(t *testing.T) {
	api := &fakeOpenAPI{}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	c := NewClient("cli_test", "secret", srv.URL, zap.NewNop())
	require.NoError(t, c.SendText(context.Background(), "oc_chat", "hello"))

	require.Len(t, api.bodies, 1)
	assert.Equal(t, "oc_chat", api.bodies[0]["receive_id"])
	assert.Equal(t, "text", api.bodies[0]["msg_type"])
	assert.JSONEq(t, `{"text":"hello"}`, api.bodies[0]["content"].(string))
}

func TestSendRichText(t *testing.T) {
	api := &fakeOpenAPI{}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	c := NewClient("cli_test", "secret", srv.URL, zap.NewNop())
	require.NoError(t, c.SendRichText(context.Background(), "oc_chat", "Rescue: Spice Route", []string{"line one", "line two"}))

	require.Len(t, api.bodies, 1)
	assert.Equal(t, "post", api.bodies[0]["msg_type"])
	content := api.bodies[0]["content"].(string)
	assert.True(t, strings.Contains(content, "Rescue: Spice Route"))
	assert.True(t, strings.Contains(content, "line two"))
}

func TestSendTextAPIError(t *testing.T) {
	api := &fakeOpenAPI{fail: true}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	c := NewClient("cli_test", "secret", srv.URL, zap.NewNop())
	err := c.SendText(context.Background(), "oc_chat", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot not in chat")
}
