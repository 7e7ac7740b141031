package wordpress

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProxyForwardsWithBasicAuth(t *testing.T) {
	var gotUser, gotPass, gotPath, gotQuery, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("X-WP-Total", "3")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":7}`)
	}))
	defer srv.Close()

	p := NewProxy(time.Second, nil).WithClient(srv.Client())
	resp, err := p.Do(context.Background(),
		Credentials{URL: srv.URL + "/", Username: "editor", Password: "abcd efgh ijkl"},
		http.MethodPost, "/wp/v2/posts", url.Values{"status": {"draft"}}, []byte(`{"title":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.Status)
	require.Equal(t, `{"id":7}`, string(resp.Body))
	require.Equal(t, "3", resp.Header.Get("X-WP-Total"))

	require.Equal(t, "editor", gotUser)
	require.Equal(t, "abcdefghijkl", gotPass)
	require.Equal(t, "/wp-json/wp/v2/posts", gotPath)
	require.Equal(t, "status=draft", gotQuery)
	require.Equal(t, `{"title":"hi"}`, gotBody)
}

func TestEndpoint(t *testing.T) {
	e, err := Endpoint("https://blog.example.com/sub/", "wp/v2/pages")
	require.NoError(t, err)
	require.Equal(t, "https://blog.example.com/sub/wp-json/wp/v2/pages", e)

	_, err = Endpoint("not a url", "x")
	require.Error(t, err)
	_, err = Endpoint("https://blog.example.com", "../../etc")
	require.Error(t, err)
}
