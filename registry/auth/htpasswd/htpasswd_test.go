package htpasswd

import (
	"fmt"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/dockerust/dockerust/registry/auth"
)

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("generating bcrypt hash: %v", err)
	}
	return string(hash)
}

func TestParseHTPasswd(t *testing.T) {
	content := fmt.Sprintf(`
# This is a comment in a basic authorization file
bilbo:%s
frodo:%s

# empty lines and comments are skipped
samwise:%s
`, mustHash(t, "baggins"), mustHash(t, "baggins"), mustHash(t, "the-brave"))

	entries, err := parseHTPasswd(strings.NewReader(content))
	if err != nil {
		t.Fatalf("error parsing htpasswd: %v", err)
	}

	if len(entries) != 3 {
		t.Fatalf("unexpected number of entries: %d != 3", len(entries))
	}

	for _, username := range []string{"bilbo", "frodo", "samwise"} {
		if _, ok := entries[username]; !ok {
			t.Errorf("missing entry for %q", username)
		}
	}
}

func TestParseHTPasswdInvalidEntry(t *testing.T) {
	// an entry without a colon separator is a syntax error
	if _, err := parseHTPasswd(strings.NewReader("justausername\n")); err == nil {
		t.Fatalf("expected error parsing malformed htpasswd")
	}
}

func TestAuthenticateUser(t *testing.T) {
	content := fmt.Sprintf("bilbo:%s\n", mustHash(t, "baggins"))

	h, err := newHTPasswd(strings.NewReader(content))
	if err != nil {
		t.Fatalf("error creating htpasswd: %v", err)
	}

	if err := h.authenticateUser("bilbo", "baggins"); err != nil {
		t.Errorf("unexpected error authenticating user: %v", err)
	}

	if err := h.authenticateUser("bilbo", "takenbyisengard"); err != auth.ErrAuthenticationFailure {
		t.Errorf("unexpected error for bad password: %v", err)
	}

	if err := h.authenticateUser("sauron", "whereisthering"); err != auth.ErrAuthenticationFailure {
		t.Errorf("unexpected error for unknown user: %v", err)
	}
}
