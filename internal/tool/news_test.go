package tool

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const newsIndexHTML = `<html><body>
<div class="list-card-h">
  <ul>
    <li class="item">
      <a class="card" href="../info/1001.html">
        <img src="/img/1001.jpg">
        <p class="dot">Campus opens new library wing</p>
        <div class="des dot">The east campus library adds three floors of study space.</div>
        <div class="time"><span>2026-08-20</span><div class="source"><p>Campus Daily</p></div></div>
      </a>
    </li>
    <li class="item">
      <a class="card" href="/info/1002.html">
        <p class="dot">Robotics team wins national title</p>
        <div class="des dot">Seven students took first place at the finals.</div>
        <div class="time"><span>2026-08-18</span><div class="source"><p>Engineering School</p></div></div>
      </a>
    </li>
  </ul>
</div>
</body></html>`

func TestNewsToolDigest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, newsIndexHTML)
	}))
	defer srv.Close()

	tool := &NewsTool{pageURL: srv.URL + "/jdyw/index.html"}
	res, err := tool.Run(context.Background(), NewContext(nil, nil), noParams)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	assert.Contains(t, res.Data, "[Campus opens new library wing]")
	assert.Contains(t, res.Data, srv.URL+"/info/1001.html", "relative links resolve against the page URL")
	assert.Contains(t, res.Data, "three floors of study space")
	assert.Contains(t, res.Data, "2026-08-20 Campus Daily")
	assert.Contains(t, res.Data, "[Robotics team wins national title]("+srv.URL+"/info/1002.html)")
}

func TestNewsToolEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>nothing here</body></html>")
	}))
	defer srv.Close()

	tool := &NewsTool{pageURL: srv.URL}
	res, err := tool.Run(context.Background(), NewContext(nil, nil), noParams)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no news entries")
}

func TestNewsToolServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tool := &NewsTool{pageURL: srv.URL}
	res, err := tool.Run(context.Background(), NewContext(nil, nil), noParams)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "502")
}
