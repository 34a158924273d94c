package catalog

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var videoIDPattern = regexp.MustCompile(`^[0-9A-Za-z_-]{11}$`)

// VideoID extracts the 11 character YouTube id from a watch URL
// (watch?v=ID), a short link (youtu.be/ID) or an embed, shorts or live path.
// Links pasted without a scheme are read as https.
func VideoID(videoURL string) (string, bool) {
	raw := strings.TrimSpace(videoURL)
	u, err := url.Parse(raw)
	if err == nil && u.Host == "" && raw != "" {
		u, err = url.Parse("https://" + raw)
	}
	if err != nil || u.Host == "" {
		return "", false
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")

	var id string
	switch host {
	case "youtu.be":
		id = segments[0]
	case "youtube.com", "m.youtube.com", "music.youtube.com", "youtube-nocookie.com":
		switch {
		case segments[0] == "watch":
			id = u.Query().Get("v")
		case len(segments) >= 2 && isIDPath(segments[0]):
			id = segments[1]
		}
	}

	if !videoIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

func isIDPath(segment string) bool {
	switch segment {
	case "embed", "shorts", "live", "v":
		return true
	}
	return false
}

// Thumbnail returns the preview image for a video URL, if one can be derived.
func Thumbnail(videoURL string) (string, bool) {
	id, ok := VideoID(videoURL)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("https://img.youtube.com/vi/%s/hqdefault.jpg", id), true
}
