package normalize

import (
	"errors"
	"testing"
)

func TestExtractSessions(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"bare array", `[{"id":"a"},{"id":"b"}]`, 2},
		{"sessions key", `{"sessions":[{"id":"a"}],"total":1}`, 1},
		{"data key", `{"data":[{"id":"a"},{"id":"b"},{"id":"c"}]}`, 3},
		{"nested data sessions", `{"data":{"sessions":[{"id":"a"}]}}`, 1},
		{"nested falls through", `{"data":{"meta":{}},"items":[{"id":"a"},{"id":"b"}]}`, 2},
		{"conversations key", `{"conversations":[{"id":"a"}]}`, 1},
		{"unknown envelope", `{"status":"ok"}`, 0},
		{"too deep", `{"data":{"data":{"sessions":[{"id":"a"}]}}}`, 0},
		{"empty array", `[]`, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			items, err := ExtractSessions([]byte(tc.body))
			if err != nil {
				t.Fatalf("ExtractSessions err: %v", err)
			}
			if items == nil {
				t.Fatalf("expected non-nil slice")
			}
			if len(items) != tc.want {
				t.Fatalf("len=%d want %d", len(items), tc.want)
			}
		})
	}
}

func TestExtractSessionsRejectsGarbage(t *testing.T) {
	for _, body := range []string{``, `   `, `"nope"`, `[{"id":`, `<html>`} {
		if _, err := ExtractSessions([]byte(body)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("body %q: err=%v want ErrMalformed", body, err)
		}
	}
}
