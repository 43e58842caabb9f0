package chat

import (
	"context"
	"reflect"
	"testing"
)

func TestParseBodyMentions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want []string
	}{
		{name: "none", body: "no mentions here", want: nil},
		{name: "single", body: "hey @ava look at this", want: []string{"ava"}},
		{name: "multiple ordered", body: "@ben then @ava then @ben again", want: []string{"ben", "ava"}},
		{name: "dedup case insensitive", body: "@Ava and @ava", want: []string{"Ava"}},
		{name: "punctuation boundary", body: "thanks @maria.lopez!", want: []string{"maria.lopez"}},
		{name: "too short", body: "a @x b", want: nil},
		{name: "email not stripped of domain", body: "mail me ben@example.com", want: []string{"example.com"}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := parseBodyMentions(tc.body)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("parseBodyMentions(%q)=%v want=%v", tc.body, got, tc.want)
			}
		})
	}
}

func TestResolveMentions(t *testing.T) {
	t.Parallel()
	dir := NewStaticDirectory(
		UserRef{ID: 1, Name: "ava"},
		UserRef{ID: 2, Name: "ben"},
	)
	ctx := context.Background()

	got := resolveMentions(ctx, dir, []int64{2, 9999}, []string{"ava", "ghost"}, "also @ben inline")

	// id 2 resolves; unknown id dropped; "ava" resolves; "ghost" kept
	// name-only; "@ben" in the body deduplicates against id 2.
	if len(got) != 3 {
		t.Fatalf("mentions=%+v want 3 entries", got)
	}
	if got[0].UserID == nil || *got[0].UserID != 2 || got[0].Name != "ben" {
		t.Fatalf("first=%+v want resolved ben", got[0])
	}
	if got[1].UserID == nil || *got[1].UserID != 1 || got[1].Name != "ava" {
		t.Fatalf("second=%+v want resolved ava", got[1])
	}
	if got[2].UserID != nil || got[2].Name != "ghost" {
		t.Fatalf("third=%+v want unresolved ghost", got[2])
	}
}

func TestResolveMentionsAmbiguousNameStaysUnresolved(t *testing.T) {
	t.Parallel()
	dir := NewStaticDirectory(
		UserRef{ID: 1, Name: "sam"},
		UserRef{ID: 2, Name: "sam"},
	)

	got := resolveMentions(context.Background(), dir, nil, []string{"sam"}, "")
	if len(got) != 1 {
		t.Fatalf("mentions=%+v want 1 entry", got)
	}
	if got[0].UserID != nil {
		t.Fatalf("ambiguous name must stay name-only, got id=%v", *got[0].UserID)
	}
}

func TestResolveMentionsNilDirectory(t *testing.T) {
	t.Parallel()

	got := resolveMentions(context.Background(), nil, []int64{1}, []string{"ava"}, "@ben")
	// No directory: ids cannot resolve and are dropped, names stay name-only.
	if len(got) != 2 {
		t.Fatalf("mentions=%+v want 2 entries", got)
	}
	for _, m := range got {
		if m.UserID != nil {
			t.Fatalf("unexpected resolved mention %+v", m)
		}
	}
}
