package danmaku_test

import (
	"testing"

	"danmakuhub/backend/service/danmaku"
)

func TestBuildCanonicalSlug(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		title string
		year  string
		want  string
	}{
		{"empty title", "", "", ""},
		{"whitespace only", "   \t ", "2020", ""},
		{"ascii with punctuation and year", "Foo Bar!", "2020", "foobar-2020"},
		{"case folded", "FOO bar", "", "foobar"},
		{"cjk preserved", "葬送的芙莉莲", "2023", "葬送的芙莉莲-2023"},
		{"mixed cjk and ascii", "Fate/stay night 第2季", "", "fatestaynight第2季"},
		{"symbols stripped to nothing", "!!!---***", "2020", ""},
		{"year whitespace trimmed", "abc", "  2021  ", "abc-2021"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := danmaku.BuildCanonicalSlug(tc.title, tc.year); got != tc.want {
				t.Fatalf("BuildCanonicalSlug(%q, %q) = %q, want %q", tc.title, tc.year, got, tc.want)
			}
		})
	}
}

func TestBuildCanonicalSlugNormalizesEquivalentTitles(t *testing.T) {
	t.Parallel()
	a := danmaku.BuildCanonicalSlug("Foo  Bar", "2020")
	b := danmaku.BuildCanonicalSlug("foo-bar!", "2020")
	if a == "" || a != b {
		t.Fatalf("expected identical slugs, got %q and %q", a, b)
	}
}

func TestBuildCanonicalSlugIdempotent(t *testing.T) {
	t.Parallel()
	first := danmaku.BuildCanonicalSlug("Foo Bar!", "")
	second := danmaku.BuildCanonicalSlug(first, "")
	if first != second {
		t.Fatalf("re-application changed slug: %q -> %q", first, second)
	}
}

func TestFormatColor(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw  string
		want string
	}{
		{"16777215", "#ffffff"},
		{"16711680", "#ff0000"},
		{"255", "#0000ff"},
		{"0", "#000000"},
		{"-1", "#ffffff"},
		{"16777216", "#ffffff"},
		{"4294967295", "#ffffff"},
		{"junk", "#ffffff"},
		{"", "#ffffff"},
	}
	for _, tc := range cases {
		if got := danmaku.FormatColor(tc.raw); got != tc.want {
			t.Errorf("FormatColor(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}
