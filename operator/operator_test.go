package operator

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalInteractorYesNo(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminalInteractor(strings.NewReader("/yes\n"), &out)
	ok, err := term.Decide(context.Background(), "execute trade a->b?")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, out.String(), "execute trade a->b?")

	term = NewTerminalInteractor(strings.NewReader("/no\n"), &out)
	ok, err = term.Decide(context.Background(), "execute?")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTerminalInteractorRepromptsOnGarbage(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminalInteractor(strings.NewReader("yes\nmaybe\n/no\n"), &out)
	ok, err := term.Decide(context.Background(), "execute?")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, strings.Count(out.String(), "please answer"))
}

func TestTerminalInteractorEOF(t *testing.T) {
	term := NewTerminalInteractor(strings.NewReader(""), io.Discard)
	_, err := term.Decide(context.Background(), "execute?")
	assert.ErrorIs(t, err, io.EOF)
}

func TestAutoApprover(t *testing.T) {
	ok, err := AutoApprover{Approve: true}.Decide(context.Background(), "?")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = AutoApprover{}.Decide(context.Background(), "?")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTelegramInteractorDecide(t *testing.T) {
	var polls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			io.WriteString(w, `{"ok":true}`)
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			// First poll returns chatter from another chat, second the answer.
			if polls.Add(1) == 1 {
				io.WriteString(w, `{"ok":true,"result":[
					{"update_id":7,"message":{"text":"/yes","chat":{"id":999}}}]}`)
				return
			}
			io.WriteString(w, `{"ok":true,"result":[
				{"update_id":8,"message":{"text":"/yes","chat":{"id":42}}}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer ts.Close()

	tg := NewTelegramInteractor("token", "42")
	tg.BaseURL = ts.URL
	tg.client = ts.Client()

	ok, err := tg.Decide(context.Background(), "execute trade?")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, polls.Load(), int64(2), "foreign chat must not decide")
}

func TestTelegramInteractorOffsetAdvances(t *testing.T) {
	var offsets []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/sendMessage") {
			io.WriteString(w, `{"ok":true}`)
			return
		}
		offsets = append(offsets, r.URL.Query().Get("offset"))
		io.WriteString(w, `{"ok":true,"result":[
			{"update_id":100,"message":{"text":"/no","chat":{"id":42}}}]}`)
	}))
	defer ts.Close()

	tg := NewTelegramInteractor("token", "42")
	tg.BaseURL = ts.URL
	tg.client = ts.Client()

	ok, err := tg.Decide(context.Background(), "execute?")
	require.NoError(t, err)
	assert.False(t, ok)
	require.Equal(t, []string{"0"}, offsets)
	// A second question starts past the consumed update.
	_, err = tg.Decide(context.Background(), "again?")
	require.NoError(t, err)
	assert.Equal(t, "101", offsets[1])
}
