package generate

import "testing"

func TestSpeakable(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain text unchanged", in: "Sure thing.", want: "Sure thing."},
		{name: "drops emoji and emphasis", in: "Sure 😊 **let's** do this.", want: "Sure let's do this."},
		{name: "keeps link label", in: "Read [the docs](https://example.com/docs) first.", want: "Read the docs first."},
		{name: "drops bare urls", in: "See https://example.com now", want: "See now"},
		{name: "drops code", in: "```bash\nnpm run dev\n```\nThen run `make test` now", want: "Then run now"},
		{name: "flattens headings and lists", in: "# Title\n\n- one\n- two", want: "Title - one - two"},
		{name: "nothing speakable", in: "```go\nfmt.Println()\n```", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Speakable(tc.in); got != tc.want {
				t.Fatalf("Speakable(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
