package chat

import (
	"context"
	"regexp"
	"strings"
)

// UserRef is a minimal reference into the platform's user directory.
type UserRef struct {
	ID   int64
	Name string
}

// UserDirectory resolves mention targets. It is an external collaborator:
// the platform owns user records, the chat core only looks them up.
//
// ByName reports ok=false both for "no such user" and "ambiguous name";
// the caller must not guess in either case.
type UserDirectory interface {
	ByID(ctx context.Context, id int64) (UserRef, bool, error)
	ByName(ctx context.Context, name string) (UserRef, bool, error)
}

// StaticDirectory is an in-memory UserDirectory for dev and tests.
type StaticDirectory struct {
	users []UserRef
}

// NewStaticDirectory constructs a directory over a fixed user set.
func NewStaticDirectory(users ...UserRef) *StaticDirectory {
	return &StaticDirectory{users: users}
}

func (d *StaticDirectory) ByID(_ context.Context, id int64) (UserRef, bool, error) {
	for _, u := range d.users {
		if u.ID == id {
			return u, true, nil
		}
	}
	return UserRef{}, false, nil
}

func (d *StaticDirectory) ByName(_ context.Context, name string) (UserRef, bool, error) {
	var (
		found UserRef
		n     int
	)
	for _, u := range d.users {
		if strings.EqualFold(u.Name, name) {
			found = u
			n++
		}
	}
	if n != 1 {
		// No match or ambiguous: the caller treats both as unresolved.
		return UserRef{}, false, nil
	}
	return found, true, nil
}

var bodyMentionRE = regexp.MustCompile(`@([\p{L}\p{N}_.\-]{2,32})`)

// parseBodyMentions extracts @name candidates from a message body,
// in order of first appearance.
func parseBodyMentions(body string) []string {
	matches := bodyMentionRE.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		key := strings.ToLower(m[1])
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m[1])
	}
	return out
}

// resolveMentions builds the ordered mention list for a message from the
// explicit id list, the explicit name list, and @names found in the body.
//
// Resolution rules:
//   - an explicit id that resolves becomes a full {id, name} entry;
//     an unknown id is dropped (nothing to display, nobody to notify)
//   - a name that resolves uniquely becomes {id, name}
//   - an unresolved or ambiguous name is kept as a name-only entry and
//     never produces a notification
//   - entries are deduplicated by resolved id, then by lowercased name,
//     preserving submission order
//
// Directory errors degrade to "unresolved" so a directory hiccup cannot
// fail a send.
func resolveMentions(ctx context.Context, dir UserDirectory, ids []int64, names []string, body string) []Mention {
	var out []Mention
	seenID := make(map[int64]bool)
	seenName := make(map[string]bool)

	add := func(m Mention) {
		if m.UserID != nil {
			if seenID[*m.UserID] {
				return
			}
			seenID[*m.UserID] = true
		}
		key := strings.ToLower(m.Name)
		if key != "" {
			if seenName[key] {
				return
			}
			seenName[key] = true
		}
		out = append(out, m)
	}

	if dir == nil {
		dir = NewStaticDirectory()
	}

	for _, id := range ids {
		u, ok, err := dir.ByID(ctx, id)
		if err != nil || !ok {
			continue
		}
		uid := u.ID
		add(Mention{UserID: &uid, Name: u.Name})
	}

	for _, name := range append(append([]string(nil), names...), parseBodyMentions(body)...) {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		u, ok, err := dir.ByName(ctx, name)
		if err != nil || !ok {
			add(Mention{Name: name})
			continue
		}
		uid := u.ID
		add(Mention{UserID: &uid, Name: u.Name})
	}

	return out
}
