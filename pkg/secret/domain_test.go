package secret

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"github.com", "github"},
		{"https://www.github.com/login", "github"},
		{"http://example.org/a/b", "example.org"},
		{"  GitHub.COM  ", "github"},
		{"www.www.github.com", "github"},
		{"https://https://site.com", "site"},
		{"http://www.https://x.com/", "x"},
		{"www.https://site.com/path", "site"},
		{"x.com.com", "x"},
		{"mail.google.com", "mail.google"},
		{"/path/only", ""},
		{"", ""},
		{"   ", ""},
		{"https://", ""},
		{"STRASSE.de", "strasse.de"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeDomain(tt.in))
		})
	}
}

func TestNormalizeDomainIdempotent(t *testing.T) {
	inputs := []string{
		"https://www.github.com/login",
		"http://www.https://x.com/",
		" www. example.com",
		"HTTPS://WWW.EXAMPLE.COM",
		"a.com.com.com/b",
		"https:// www.foo.com",
		"ΣΊΣΥΦΟΣ.gr",
		"",
	}

	for _, in := range inputs {
		once := NormalizeDomain(in)
		assert.Equal(t, once, NormalizeDomain(once), "input %q", in)
	}
}

func TestMatchesDomain(t *testing.T) {
	assert.True(t, matchesDomain("GitHub", "github"))
	assert.True(t, matchesDomain("work github account", "github"))
	assert.False(t, matchesDomain("gitlab", "github"))
	assert.False(t, matchesDomain("anything", ""))
}
