// Package reference provides the grammar for repository names, tags and
// digest references as they appear in the registry API and on the wire.
//
// Grammar:
//
//	reference      := name [ ":" tag ] [ "@" digest ]
//	name           := path-component ['/' path-component]*
//	path-component := alpha-numeric [separator alpha-numeric]*
//	alpha-numeric  := /[a-z0-9]+/
//	separator      := /[_.]|__|[-]*/
//	tag            := /[\w][\w.-]{0,127}/
package reference

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/opencontainers/go-digest"
)

// NameTotalLengthMax is the maximum total number of characters in a
// repository name.
const NameTotalLengthMax = 255

var (
	// ErrNameEmpty is returned for empty, invalid repository names.
	ErrNameEmpty = errors.New("repository name must have at least one component")

	// ErrNameTooLong is returned when a repository name is longer than
	// NameTotalLengthMax.
	ErrNameTooLong = fmt.Errorf("repository name must not be more than %v characters", NameTotalLengthMax)

	// ErrTagInvalidFormat is returned when a tag does not satisfy TagRegexp.
	ErrTagInvalidFormat = errors.New("invalid tag format")

	// ErrReferenceInvalidFormat is returned when a reference is neither a
	// valid tag nor a valid digest.
	ErrReferenceInvalidFormat = errors.New("invalid reference format")
)

var (
	// nameComponentRegexp restricts a single path component of a repository
	// name: lowercase alphanumerics separated by single period, one or two
	// underscore, or multiple dash characters.
	nameComponentRegexp = regexp.MustCompile(`[a-z0-9]+(?:(?:[._]|__|[-]+)[a-z0-9]+)*`)

	// NameRegexp is the format of a repository name: one or more
	// slash-separated name components.
	NameRegexp = regexp.MustCompile(`(?:` + nameComponentRegexp.String() + `/)*` + nameComponentRegexp.String())

	anchoredNameRegexp = regexp.MustCompile(`^` + NameRegexp.String() + `$`)

	// TagRegexp matches valid tag names. A tag starts with a word character
	// and may contain up to 127 further word characters, periods and dashes.
	TagRegexp = regexp.MustCompile(`[\w][\w.-]{0,127}`)

	anchoredTagRegexp = regexp.MustCompile(`^` + TagRegexp.String() + `$`)
)

// ValidateName checks that name is a well formed repository name.
func ValidateName(name string) error {
	switch {
	case name == "":
		return ErrNameEmpty
	case len(name) > NameTotalLengthMax:
		return ErrNameTooLong
	case strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/"):
		return fmt.Errorf("repository name must not begin or end with a slash: %q", name)
	case !anchoredNameRegexp.MatchString(name):
		return fmt.Errorf("invalid repository name: %q", name)
	}

	return nil
}

// ValidateTag checks that tag is a well formed tag name.
func ValidateTag(tag string) error {
	if !anchoredTagRegexp.MatchString(tag) {
		return ErrTagInvalidFormat
	}
	return nil
}

// Reference is a parsed repository reference: a repository name plus a tag,
// a digest, or both, identifying content within the repository.
type Reference struct {
	// Name is the repository name.
	Name string

	// Tag holds the tag when the reference carried one.
	Tag string

	// Digest holds the digest when the reference carried one.
	Digest digest.Digest
}

// String reassembles the reference into its canonical wire form.
func (r Reference) String() string {
	s := r.Name
	if r.Tag != "" {
		s += ":" + r.Tag
	}
	if r.Digest != "" {
		s += "@" + r.Digest.String()
	}
	return s
}

// Parse splits a reference of the form name[:tag][@digest] into its parts,
// validating each.
func Parse(s string) (Reference, error) {
	var ref Reference

	remainder := s
	if i := strings.IndexRune(remainder, '@'); i != -1 {
		dgst, err := digest.Parse(remainder[i+1:])
		if err != nil {
			return Reference{}, err
		}
		ref.Digest = dgst
		remainder = remainder[:i]
	}

	if i := strings.LastIndexByte(remainder, ':'); i != -1 {
		ref.Tag = remainder[i+1:]
		if err := ValidateTag(ref.Tag); err != nil {
			return Reference{}, err
		}
		remainder = remainder[:i]
	}

	if ref.Tag == "" && ref.Digest == "" {
		return Reference{}, ErrReferenceInvalidFormat
	}

	if err := ValidateName(remainder); err != nil {
		return Reference{}, err
	}
	ref.Name = remainder

	return ref, nil
}
