package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	cases := []struct {
		name   string
		frame  string
		ok     bool
		assert func(t *testing.T, m Message)
	}{
		{
			name:  "progress with null preview",
			frame: `{"type":"progress","percent":50,"status":"Sampling","preview":null}`,
			ok:    true,
			assert: func(t *testing.T, m Message) {
				assert.Equal(t, TypeProgress, m.Type)
				assert.Equal(t, 50.0, m.Percent)
				assert.Equal(t, "Sampling", m.Status)
				assert.Nil(t, m.Preview)
			},
		},
		{
			name:  "complete with images",
			frame: `{"type":"complete","images":["a.png"]}`,
			ok:    true,
			assert: func(t *testing.T, m Message) {
				assert.True(t, m.Terminal())
				assert.Equal(t, []string{"a.png"}, m.Images)
			},
		},
		{
			name:  "error uses message",
			frame: `{"type":"error","message":"boom"}`,
			ok:    true,
			assert: func(t *testing.T, m Message) {
				assert.Equal(t, "boom", m.ErrorText())
			},
		},
		{
			name:  "error falls back to error field",
			frame: `{"type":"error","error":"bad"}`,
			ok:    true,
			assert: func(t *testing.T, m Message) {
				assert.Equal(t, "bad", m.ErrorText())
			},
		},
		{
			name:  "chat stream",
			frame: `{"type":"stream","history":[{"role":"user","content":"hi"}]}`,
			ok:    true,
			assert: func(t *testing.T, m Message) {
				assert.False(t, m.Terminal())
				assert.Equal(t, []ChatMessage{{Role: "user", Content: "hi"}}, m.History)
			},
		},
		{name: "unknown type", frame: `{"type":"heartbeat"}`},
		{name: "missing type", frame: `{"percent":10}`},
		{name: "truncated", frame: `{"type":"progr`},
		{name: "not an object", frame: `[1,2,3]`},
		{name: "empty", frame: ``},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m, ok := ParseMessage([]byte(c.frame))
			require.Equal(t, c.ok, ok)
			if c.assert != nil {
				c.assert(t, m)
			}
		})
	}
}

func TestKindPaths(t *testing.T) {
	assert.Equal(t, "/api/generate", KindGenerate.SubmitPath())
	assert.Equal(t, "/api/generate/stop", KindGenerate.StopPath())
	assert.Equal(t, "/api/ws/generate/42", KindGenerate.StreamPath(42))
	assert.Equal(t, "/api/chat/send", KindChat.SubmitPath())
	assert.Equal(t, "/api/chat/stop", KindChat.StopPath())
	assert.Equal(t, "/api/ws/chat/7", KindChat.StreamPath(7))
}
