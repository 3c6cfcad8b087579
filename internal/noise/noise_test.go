package noise

import "testing"

func TestIsMeaningfulComment(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		text string
		want bool
	}{
		{name: "acknowledgement", text: "lgtm", want: false},
		{name: "acknowledgement_with_substantive_remark", text: "lgtm but please fix the null check", want: true},
		{name: "too_short", text: "ok", want: false},
		{name: "keyword_but_too_short", text: "bug", want: false},
		{name: "whitespace_only", text: "    \n\t", want: false},
		{name: "exact_acknowledgement_with_keyword", text: "fixed", want: false},
		{name: "acknowledgement_case_insensitive", text: "  Thank You  ", want: false},
		{name: "acknowledgement_prefix", text: "thanks for doing this so quickly", want: false},
		{name: "acknowledgement_suffix", text: "all of this looks good", want: false},
		{name: "emoji_acknowledgement", text: "ship it 🚀", want: false},
		{name: "short_without_keyword", text: "why this way?", want: false},
		{name: "short_with_keyword", text: "typo error", want: true},
		{name: "long_without_keyword", text: "could we rename this to something clearer?", want: true},
		{name: "phrase_inside_word_does_not_match", text: "okayish approach overall, rename vars", want: true},
		{name: "fifteen_characters_without_keyword", text: "consider a map!", want: true},
		{name: "emoji_counts_as_two_units_toward_minimum", text: "bug🐛", want: true},
		{name: "emoji_reach_unqualified_length", text: "consider 🐛🐛🐛!", want: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := IsMeaningfulComment(tc.text); got != tc.want {
				t.Fatalf("IsMeaningfulComment(%q) = %t, want %t", tc.text, got, tc.want)
			}
		})
	}
}
