package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MelodifyLabs/melody-call-service/internal/domain"
	"github.com/MelodifyLabs/melody-call-service/pkg/httpclient"
)

const testToken = "123:abc"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, testToken, httpclient.New(t.TempDir()))
}

func TestSendMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot"+testToken+"/sendMessage", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "-100123", r.Form.Get("chat_id"))
		assert.Equal(t, "hello", r.Form.Get("text"))
		assert.Equal(t, "HTML", r.Form.Get("parse_mode"))
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":55,"chat":{"id":-100123}}}`)
	})

	id, err := c.SendMessage(context.Background(), -100123, "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(55), id)
}

func TestAPIErrorBecomesTypedError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error_code":403,"description":"bot was kicked"}`)
	})

	_, err := c.SendMessage(context.Background(), -100123, "hello")
	require.Error(t, err)
	assert.Equal(t, 403, domain.ErrorCode(err))
	assert.Contains(t, err.Error(), "bot was kicked")
}

func TestRateLimitCarriesRetryAfter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":17}}`)
	})

	_, err := c.SendMessage(context.Background(), -100123, "hello")
	require.Error(t, err)

	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 429, de.Code)
	assert.Equal(t, float64(17), de.RetryAfter.Seconds())
}

func TestGetChatMemberStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true,"result":{"status":"administrator"}}`)
	})

	status, err := c.GetChatMemberStatus(context.Background(), -100123, 777)
	require.NoError(t, err)
	assert.Equal(t, StatusAdministrator, status)
}

func TestGetChatMemberStatusUnknownUserIsLeft(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"user not found"}`)
	})

	status, err := c.GetChatMemberStatus(context.Background(), -100123, 777)
	require.NoError(t, err)
	assert.Equal(t, StatusLeft, status)
}

func TestCreateInviteLink(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true,"result":{"invite_link":"https://t.me/+abcdef"}}`)
	})

	link, err := c.CreateInviteLink(context.Background(), -100123)
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/+abcdef", link)
}

func TestGetMessageMedia(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "@channel", r.Form.Get("chat_id"))
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":9,"chat":{"id":-100123},"audio":{"file_id":"f1","file_name":"song.mp3","file_size":1024,"duration":180}}}`)
	})

	msg, err := c.GetMessage(context.Background(), "@channel", 9)
	require.NoError(t, err)
	media := msg.Media()
	require.NotNil(t, media)
	assert.Equal(t, "f1", media.FileID)
	assert.Equal(t, int64(1024), media.FileSize)
}

func TestMediaPrecedence(t *testing.T) {
	msg := &Message{}
	assert.Nil(t, msg.Media())

	msg.Document = &Attachment{FileID: "doc"}
	assert.Equal(t, "doc", msg.Media().FileID)

	msg.Audio = &Attachment{FileID: "aud"}
	assert.Equal(t, "aud", msg.Media().FileID, "audio wins over document")
}

func TestDownloadAttachment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bot" + testToken + "/getFile":
			fmt.Fprint(w, `{"ok":true,"result":{"file_path":"music/song.mp3"}}`)
		case "/file/bot" + testToken + "/music/song.mp3":
			w.Write([]byte("mp3-bytes"))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	dir := t.TempDir()
	path, err := c.DownloadAttachment(context.Background(), &Attachment{FileID: "f1"}, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "song.mp3"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "mp3-bytes", string(data))
}
