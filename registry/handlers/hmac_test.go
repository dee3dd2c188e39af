package handlers

import (
	"testing"
	"time"
)

var blobUploadStates = []blobUploadState{
	{
		Name:   "hello",
		UUID:   "abcd-1234-qwer-0987",
		Offset: 0,
	},
	{
		Name:   "hello-world",
		UUID:   "abcd-1234-qwer-0987",
		Offset: 0,
	},
	{
		Name:   "h3ll0_w0rld",
		UUID:   "abcd-1234-qwer-0987",
		Offset: 1337,
	},
	{
		Name:      "ABCDEFG",
		UUID:      "ABCD-1234-QWER-0987",
		Offset:    1234567890,
		StartedAt: time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC),
	},
}

// TestLayerUploadTokens constructs stateTokens from LayerUploadStates and
// validates that the tokens can be used to reconstruct the proper upload state.
func TestLayerUploadTokens(t *testing.T) {
	secret := hmacKey("supersecret")

	for _, testcase := range blobUploadStates {
		token, err := secret.packUploadState(testcase)
		if err != nil {
			t.Fatal(err)
		}

		lus, err := secret.unpackUploadState(token)
		if err != nil {
			t.Fatal(err)
		}

		assertBlobUploadStateEquals(t, testcase, lus)
	}
}

// TestHMACValidation ensures that any HMAC token providers are compatible if
// and only if they share the same secret.
func TestHMACValidate(t *testing.T) {
	secret1 := hmacKey("secret1")
	secret2 := hmacKey("secret2")
	badToken := "this is a bad token"

	for _, testcase := range blobUploadStates {
		token, err := secret1.packUploadState(testcase)
		if err != nil {
			t.Fatal(err)
		}

		lus, err := secret1.unpackUploadState(token)
		if err != nil {
			t.Fatal(err)
		}

		assertBlobUploadStateEquals(t, testcase, lus)

		_, err = secret2.unpackUploadState(token)
		if err == nil {
			t.Fatalf("expected token provider to fail at retrieving state from token: %s", token)
		}

		badToken, err := secret1.packUploadState(lus)
		if err != nil {
			t.Fatal(err)
		}

		_, err = secret2.unpackUploadState(badToken)
		if err == nil {
			t.Fatalf("expected token provider to fail at retrieving state from token: %s", badToken)
		}
	}

	if _, err := secret1.unpackUploadState(badToken); err == nil {
		t.Fatalf("expected token provider to fail retrieving state from bad token: %s", badToken)
	}
}

func assertBlobUploadStateEquals(t *testing.T, expected blobUploadState, received blobUploadState) {
	t.Helper()
	if expected.Name != received.Name {
		t.Fatalf("name does not match: %q != %q", expected.Name, received.Name)
	}
	if expected.UUID != received.UUID {
		t.Fatalf("uuid does not match: %q != %q", expected.UUID, received.UUID)
	}
	if expected.Offset != received.Offset {
		t.Fatalf("offset does not match: %d != %d", expected.Offset, received.Offset)
	}
}
