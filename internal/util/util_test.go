package util

import (
	"regexp"
	"testing"
)

func TestURL(t *testing.T) {
	tests := []struct {
		name     string
		wiki     string
		language string
		domain   string
		expected string
	}{
		{
			name:     "english wiki",
			wiki:     "c",
			language: "en",
			domain:   "fandom.com",
			expected: "https://c.fandom.com",
		},
		{
			name:     "empty language",
			wiki:     "dev",
			language: "",
			domain:   "fandom.com",
			expected: "https://dev.fandom.com",
		},
		{
			name:     "path language",
			wiki:     "communaute",
			language: "fr",
			domain:   "fandom.com",
			expected: "https://communaute.fandom.com/fr",
		},
		{
			name:     "legacy domain",
			wiki:     "starwars",
			language: "de",
			domain:   "wikia.org",
			expected: "https://starwars.wikia.org/de",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := URL(tt.wiki, tt.language, tt.domain)
			if result != tt.expected {
				t.Errorf("URL() = %s, expected %s", result, tt.expected)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{
			name:     "spaces become underscores",
			in:       "Main Page",
			expected: "Main_Page",
		},
		{
			name:     "namespace colon kept",
			in:       "User talk:Some One",
			expected: "User_talk:Some_One",
		},
		{
			name:     "subpage slash kept",
			in:       "Thread:123/Reply 4",
			expected: "Thread:123/Reply_4",
		},
		{
			name:     "exclamation and parens raw",
			in:       "Foo! (disambiguation)",
			expected: "Foo!_(disambiguation)",
		},
		{
			name:     "question mark escaped",
			in:       "What?",
			expected: "What%3F",
		},
		{
			name:     "multibyte percent encoded",
			in:       "Bac à sable",
			expected: "Bac_%C3%A0_sable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Encode(tt.in)
			if result != tt.expected {
				t.Errorf("Encode(%q) = %q, expected %q", tt.in, result, tt.expected)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{
			name:     "underscores to spaces",
			in:       "Main_Page",
			expected: "Main Page",
		},
		{
			name:     "percent escapes",
			in:       "Bac_%C3%A0_sable",
			expected: "Bac à sable",
		},
		{
			name:     "plus stays literal",
			in:       "C%2B%2B_and+more",
			expected: "C++ and+more",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Decode(tt.in)
			if err != nil {
				t.Fatalf("Decode(%q) error: %v", tt.in, err)
			}
			if result != tt.expected {
				t.Errorf("Decode(%q) = %q, expected %q", tt.in, result, tt.expected)
			}
		})
	}

	if _, err := Decode("bad%zz"); err == nil {
		t.Error("Decode() expected error for invalid escape")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	titles := []string{
		"Main Page",
		"Bac à sable",
		"User:Some (one)!",
		"Thread:1234/5",
	}
	for _, title := range titles {
		decoded, err := Decode(Encode(title))
		if err != nil {
			t.Fatalf("round trip error for %q: %v", title, err)
		}
		if decoded != title {
			t.Errorf("round trip of %q = %q", title, decoded)
		}
	}
}

func TestEscapeRegex(t *testing.T) {
	in := `blocked [[$1]] (a-b) {c} x|y/z^w.`
	escaped := EscapeRegex(in)
	expected := `blocked \[\[\$1\]\] \(a\-b\) \{c\} x\|y\/z\^w\.`
	if escaped != expected {
		t.Errorf("EscapeRegex() = %q, expected %q", escaped, expected)
	}

	// The output must compile and match the input literally.
	re, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		t.Fatalf("escaped source does not compile: %v", err)
	}
	if !re.MatchString(in) {
		t.Error("escaped regex does not match the original string")
	}
}

func TestEscapeMarkdown(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{
			name:     "markdown tokens",
			in:       "a*b_c~d|e`f>g",
			expected: "a\\*b\\_c\\~d\\|e\\`f\\>g",
		},
		{
			name:     "backslash escaped first",
			in:       `a\*`,
			expected: `a\\\*`,
		},
		{
			name:     "link breakup",
			in:       "see https://evil.example and http://x.y",
			expected: "see https:/​/evil.example and http:/​/x.y",
		},
		{
			name:     "mention and invite breakup",
			in:       "hi @everyone join discord.gg/abc",
			expected: "hi @​everyone join discord​.gg/abc",
		},
		{
			name:     "newlines stripped",
			in:       "one\r\ntwo\nthree",
			expected: "onetwothree",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := EscapeMarkdown(tt.in)
			if result != tt.expected {
				t.Errorf("EscapeMarkdown(%q) = %q, expected %q", tt.in, result, tt.expected)
			}
		})
	}
}

func TestDecodeHTML(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{
			name:     "basic entities",
			in:       "&lt;b&gt; &quot;hi&quot; &#039;there&#039; a&amp;b",
			expected: `<b> "hi" 'there' a&b`,
		},
		{
			name:     "single pass only",
			in:       "&amp;lt;",
			expected: "&lt;",
		},
		{
			name:     "numeric newline",
			in:       "one&#10;two",
			expected: "one\ntwo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DecodeHTML(tt.in)
			if result != tt.expected {
				t.Errorf("DecodeHTML(%q) = %q, expected %q", tt.in, result, tt.expected)
			}
		})
	}
}

func TestIsIP(t *testing.T) {
	tests := []struct {
		in       string
		expected bool
	}{
		{"192.0.2.1", true},
		{"2001:db8::1", true},
		{"256.1.1.1", false},
		{"Username", false},
		{"", false},
	}

	for _, tt := range tests {
		if result := IsIP(tt.in); result != tt.expected {
			t.Errorf("IsIP(%q) = %t, expected %t", tt.in, result, tt.expected)
		}
	}
}

func TestIsIPRange(t *testing.T) {
	tests := []struct {
		in       string
		expected bool
	}{
		{"192.0.2.0/24", true},
		{"192.0.0.0/16", true},
		{"192.0.0.0/15", false},
		{"2001:db8::/32", true},
		{"2001:db8::/19", true},
		{"2001:db8::/18", false},
		{"192.0.2.1", false},
		{"not/acidr", false},
	}

	for _, tt := range tests {
		if result := IsIPRange(tt.in); result != tt.expected {
			t.Errorf("IsIPRange(%q) = %t, expected %t", tt.in, result, tt.expected)
		}
	}
}
