package reference

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	valid := []string{
		"library/ubuntu",
		"ubuntu",
		"a/b/c/d/e",
		"foo.bar/baz",
		"foo_bar/baz-quux",
		"foo__bar",
		"a0/b1/c2",
	}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, expected nil", name, err)
		}
	}

	invalid := []string{
		"",
		"/library/ubuntu",
		"library/ubuntu/",
		"library//ubuntu",
		"Library/Ubuntu",
		"foo/_bar",
		"-foo",
		"foo-",
		"foo..bar",
	}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, expected error", name)
		}
	}

	long := make([]byte, NameTotalLengthMax+1)
	for i := range long {
		long[i] = 'a'
	}
	if err := ValidateName(string(long)); err != ErrNameTooLong {
		t.Errorf("ValidateName(long) = %v, expected %v", err, ErrNameTooLong)
	}
}

func TestValidateTag(t *testing.T) {
	for _, tag := range []string{"latest", "v1.0.0", "1", "Foo_Bar", "a.b-c"} {
		if err := ValidateTag(tag); err != nil {
			t.Errorf("ValidateTag(%q) = %v, expected nil", tag, err)
		}
	}
	for _, tag := range []string{"", ".hidden", "-dash", "has space", strings.Repeat("x", 200)} {
		if err := ValidateTag(tag); err == nil {
			t.Errorf("ValidateTag(%q) = nil, expected error", tag)
		}
	}
}

func TestParse(t *testing.T) {
	ref, err := Parse("library/ubuntu:latest")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.Name != "library/ubuntu" || ref.Tag != "latest" || ref.Digest != "" {
		t.Fatalf("unexpected reference: %#v", ref)
	}

	dgst := "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	ref, err = Parse("foo/bar@" + dgst)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.Name != "foo/bar" || ref.Tag != "" || ref.Digest.String() != dgst {
		t.Fatalf("unexpected reference: %#v", ref)
	}

	if _, err := Parse("foo/bar"); err != ErrReferenceInvalidFormat {
		t.Fatalf("expected %v, got %v", ErrReferenceInvalidFormat, err)
	}
	if _, err := Parse("Foo/Bar:latest"); err == nil {
		t.Fatal("expected error for uppercase name")
	}
}
