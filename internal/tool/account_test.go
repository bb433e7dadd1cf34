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

const accountJSON = `{
	"errno": 0, "error": "success", "total": 1,
	"entities": [{
		"account": "student01",
		"name": "Wei Chen",
		"gender": "male",
		"userType": "student",
		"organize": {"id": "042", "name": "School of Software"},
		"topOrganize": {"id": "04", "name": "SEIEE"},
		"classNo": "F2603001",
		"email": "student01@example.edu",
		"mobile": "13800000000",
		"identities": [{
			"kind": "student",
			"isDefault": true,
			"code": "526030910001",
			"userTypeName": "Undergraduate",
			"organize": {"id": "042", "name": "School of Software"},
			"major": {"id": "0403", "name": "Software Engineering"},
			"classNo": "F2603001",
			"status": "active",
			"admissionDate": "2026-09-01",
			"trainLevel": "bachelor"
		}]
	}]
}`

func TestAccountToolRendersProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, accountJSON)
	}))
	defer srv.Close()

	tool := &AccountTool{apiURL: srv.URL + "/api/account"}
	res, err := tool.Run(context.Background(), NewContext(nil, nil), noParams)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	assert.Contains(t, res.Data, "# Wei Chen (student01)")
	assert.Contains(t, res.Data, "organization: School of Software")
	assert.Contains(t, res.Data, "identity: Undergraduate (default)")
	assert.Contains(t, res.Data, "major: Software Engineering")
	assert.Contains(t, res.Data, "admitted: 2026-09-01")
}

func TestAccountToolAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errno": 401, "error": "unauthorized", "total": 0, "entities": []}`)
	}))
	defer srv.Close()

	tool := &AccountTool{apiURL: srv.URL}
	res, err := tool.Run(context.Background(), NewContext(nil, nil), noParams)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unauthorized")
}

func TestAccountToolRedirectedToLogin(t *testing.T) {
	// A stale session bounces the API call to the SSO host.
	sso := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>login page</html>")
	}))
	defer sso.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, sso.URL+"/jalogin", http.StatusFound)
	}))
	defer api.Close()

	tool := &AccountTool{apiURL: api.URL + "/api/account"}
	res, err := tool.Run(context.Background(), NewContext(nil, nil), noParams)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "log in again")
}

func TestAccountToolEmptyEntities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errno": 0, "error": "success", "total": 0, "entities": []}`)
	}))
	defer srv.Close()

	tool := &AccountTool{apiURL: srv.URL}
	res, err := tool.Run(context.Background(), NewContext(nil, nil), noParams)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no profile")
}
