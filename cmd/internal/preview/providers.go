package preview

import (
	"net/url"
	"strings"
)

// ProviderMatcher recognizes one embeddable provider by hostname and
// derives its embed descriptor. The list is additive: registering a new
// provider is one entry, not a new branch in the fetch path.
type ProviderMatcher struct {
	Name  string
	Hosts []string
	// Embed derives an embed from the page URL, or nil when the URL does
	// not point at embeddable content (e.g. a channel page).
	Embed func(u *url.URL) *Embed
}

var providers = []ProviderMatcher{
	{
		Name:  "youtube",
		Hosts: []string{"youtube.com", "www.youtube.com", "m.youtube.com", "youtu.be"},
		Embed: youtubeEmbed,
	},
	{
		Name:  "vimeo",
		Hosts: []string{"vimeo.com", "www.vimeo.com"},
		Embed: vimeoEmbed,
	},
	{
		Name:  "twitch",
		Hosts: []string{"twitch.tv", "www.twitch.tv"},
		Embed: twitchEmbed,
	},
}

// applyProvider annotates p with provider name and embed when its URL
// matches a known provider.
func applyProvider(p *Preview) {
	u, err := url.Parse(p.URL)
	if err != nil {
		return
	}
	host := strings.ToLower(u.Hostname())
	for _, m := range providers {
		for _, h := range m.Hosts {
			if host != h {
				continue
			}
			p.Provider = m.Name
			if m.Embed != nil {
				p.Embed = m.Embed(u)
			}
			return
		}
	}
}

func youtubeEmbed(u *url.URL) *Embed {
	var id string
	switch {
	case strings.EqualFold(u.Hostname(), "youtu.be"):
		id = strings.Trim(u.Path, "/")
	case u.Path == "/watch":
		id = u.Query().Get("v")
	case strings.HasPrefix(u.Path, "/shorts/"):
		id = strings.TrimPrefix(u.Path, "/shorts/")
	}
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, "/?&") {
		return nil
	}
	return &Embed{Kind: "iframe", URL: "https://www.youtube.com/embed/" + url.PathEscape(id)}
}

func vimeoEmbed(u *url.URL) *Embed {
	id := strings.Trim(u.Path, "/")
	if id == "" || strings.ContainsAny(id, "/?&") {
		return nil
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return nil
		}
	}
	return &Embed{Kind: "iframe", URL: "https://player.vimeo.com/video/" + id}
}

func twitchEmbed(u *url.URL) *Embed {
	channel := strings.Trim(u.Path, "/")
	if channel == "" || strings.Contains(channel, "/") {
		return nil
	}
	return &Embed{Kind: "iframe", URL: "https://player.twitch.tv/?channel=" + url.QueryEscape(channel)}
}
