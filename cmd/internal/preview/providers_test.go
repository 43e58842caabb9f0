package preview

import (
	"net/url"
	"testing"
)

func TestApplyProvider(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		url          string
		wantProvider string
		wantEmbed    string
	}{
		{
			name:         "youtube watch",
			url:          "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			wantProvider: "youtube",
			wantEmbed:    "https://www.youtube.com/embed/dQw4w9WgXcQ",
		},
		{
			name:         "youtu.be short link",
			url:          "https://youtu.be/dQw4w9WgXcQ",
			wantProvider: "youtube",
			wantEmbed:    "https://www.youtube.com/embed/dQw4w9WgXcQ",
		},
		{
			name:         "youtube shorts",
			url:          "https://www.youtube.com/shorts/abc123",
			wantProvider: "youtube",
			wantEmbed:    "https://www.youtube.com/embed/abc123",
		},
		{
			name:         "youtube channel page has no embed",
			url:          "https://www.youtube.com/@somechannel",
			wantProvider: "youtube",
			wantEmbed:    "",
		},
		{
			name:         "youtube watch without id",
			url:          "https://www.youtube.com/watch",
			wantProvider: "youtube",
			wantEmbed:    "",
		},
		{
			name:         "vimeo video",
			url:          "https://vimeo.com/76979871",
			wantProvider: "vimeo",
			wantEmbed:    "https://player.vimeo.com/video/76979871",
		},
		{
			name:         "vimeo non-numeric path",
			url:          "https://vimeo.com/about",
			wantProvider: "vimeo",
			wantEmbed:    "",
		},
		{
			name:         "twitch channel",
			url:          "https://www.twitch.tv/somestreamer",
			wantProvider: "twitch",
			wantEmbed:    "https://player.twitch.tv/?channel=somestreamer",
		},
		{
			name:         "twitch video path has no embed",
			url:          "https://www.twitch.tv/somestreamer/clips",
			wantProvider: "twitch",
			wantEmbed:    "",
		},
		{
			name:         "unknown host",
			url:          "https://example.com/watch?v=abc",
			wantProvider: "",
			wantEmbed:    "",
		},
		{
			name:         "subdomain does not match",
			url:          "https://music.youtube.com/watch?v=abc",
			wantProvider: "",
			wantEmbed:    "",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := &Preview{URL: tc.url}
			applyProvider(p)
			if p.Provider != tc.wantProvider {
				t.Fatalf("provider=%q want=%q", p.Provider, tc.wantProvider)
			}
			var embed string
			if p.Embed != nil {
				if p.Embed.Kind != "iframe" {
					t.Fatalf("embed kind=%q", p.Embed.Kind)
				}
				embed = p.Embed.URL
			}
			if embed != tc.wantEmbed {
				t.Fatalf("embed=%q want=%q", embed, tc.wantEmbed)
			}
		})
	}
}

func TestYoutubeEmbedRejectsCompositeIDs(t *testing.T) {
	t.Parallel()
	u, err := url.Parse("https://youtu.be/abc/extra")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if e := youtubeEmbed(u); e != nil {
		t.Fatalf("embed=%+v want nil", e)
	}
}
