package advisory

import "testing"

type sample struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

func TestParseJSONPlain(t *testing.T) {
	var s sample
	if err := ParseJSON(`{"name":"merge","score":0.7}`, &s); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Name != "merge" || s.Score != 0.7 {
		t.Errorf("unexpected result: %+v", s)
	}
}

func TestParseJSONFenced(t *testing.T) {
	raw := "Here is the analysis:\n```json\n{\"name\":\"fenced\",\"score\":0.5}\n```\nLet me know."
	var s sample
	if err := ParseJSON(raw, &s); err != nil {
		t.Fatalf("parse fenced: %v", err)
	}
	if s.Name != "fenced" {
		t.Errorf("expected name 'fenced', got '%s'", s.Name)
	}
}

func TestParseJSONEmbeddedInProse(t *testing.T) {
	raw := `Based on the dependency structure, {"name":"prose","score":1.5} is my suggestion.`
	var s sample
	if err := ParseJSON(raw, &s); err != nil {
		t.Fatalf("parse embedded: %v", err)
	}
	if s.Name != "prose" {
		t.Errorf("expected name 'prose', got '%s'", s.Name)
	}
}

func TestParseJSONArray(t *testing.T) {
	var items []sample
	raw := "```\n[{\"name\":\"a\"},{\"name\":\"b\"}]\n```"
	if err := ParseJSON(raw, &items); err != nil {
		t.Fatalf("parse array: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
}

func TestParseJSONGarbage(t *testing.T) {
	var s sample
	for _, raw := range []string{"", "no json here", "{broken", "}{"} {
		if err := ParseJSON(raw, &s); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestClamp01(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{-0.5, 0},
		{0, 0},
		{0.3, 0.3},
		{1, 1},
		{7.2, 1},
	}
	for _, c := range cases {
		if got := Clamp01(c.in); got != c.want {
			t.Errorf("Clamp01(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
