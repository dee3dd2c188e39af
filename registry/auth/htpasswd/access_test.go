package htpasswd

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/dockerust/dockerust/internal/dcontext"
	"github.com/dockerust/dockerust/registry/auth"
)

func TestBasicAccessController(t *testing.T) {
	testRealm := "The-Shire"
	password := "baggins"

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("error generating hash: %v", err)
	}

	htpasswdPath := filepath.Join(t.TempDir(), "htpasswd")
	if err := os.WriteFile(htpasswdPath, []byte(fmt.Sprintf("bilbo:%s\n", hash)), 0o600); err != nil {
		t.Fatalf("error writing htpasswd file: %v", err)
	}

	ctx := dcontext.Background()
	accessController, err := newAccessController(map[string]interface{}{
		"realm": testRealm,
		"path":  htpasswdPath,
	})
	if err != nil {
		t.Fatalf("error creating access controller: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := dcontext.WithRequest(ctx, r)
		authCtx, err := accessController.Authorized(ctx)
		if err != nil {
			switch err := err.(type) {
			case auth.Challenge:
				err.SetHeaders(r, w)
				w.WriteHeader(http.StatusUnauthorized)
				return
			default:
				t.Fatalf("unexpected error authorizing request: %v", err)
			}
		}

		userInfo, ok := authCtx.Value(auth.UserKey).(auth.UserInfo)
		if !ok {
			t.Fatal("basic accessController did not set auth.user context")
		}

		if userInfo.Name != "bilbo" {
			t.Fatalf("expected user name %q, got %q", "bilbo", userInfo.Name)
		}

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := &http.Client{
		CheckRedirect: nil,
	}

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("error creating request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error during GET: %v", err)
	}
	defer resp.Body.Close()

	// Request should not be authorized
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected non-fail response status: %v != %v", resp.StatusCode, http.StatusUnauthorized)
	}
	if challenge := resp.Header.Get("WWW-Authenticate"); challenge != fmt.Sprintf("Basic realm=%q", testRealm) {
		t.Fatalf("unexpected challenge header: %q", challenge)
	}

	for _, tc := range []struct {
		username string
		password string
		status   int
	}{
		{username: "bilbo", password: "baggins", status: http.StatusNoContent},
		{username: "bilbo", password: "stolen", status: http.StatusUnauthorized},
		{username: "sauron", password: "whereisthering", status: http.StatusUnauthorized},
	} {
		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		if err != nil {
			t.Fatalf("error creating request: %v", err)
		}
		req.SetBasicAuth(tc.username, tc.password)

		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("unexpected error during GET: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != tc.status {
			t.Errorf("%s:%s: unexpected status: %v != %v", tc.username, tc.password, resp.StatusCode, tc.status)
		}
	}
}
