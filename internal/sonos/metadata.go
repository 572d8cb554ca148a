package sonos

import (
	"encoding/xml"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
)

// didlLite is the DIDL-Lite metadata document Sonos attaches to position info
type didlLite struct {
	XMLName xml.Name   `xml:"urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/ DIDL-Lite"`
	Items   []didlItem `xml:"urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/ item"`
}

type didlItem struct {
	Title       string `xml:"http://purl.org/dc/elements/1.1/ title"`
	AlbumArtURI string `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ albumArtURI"`
}

// albumArtFromMetadata extracts the album art URI from DIDL-Lite track
// metadata. Relative URIs are resolved against the coordinator's control
// address (Sonos serves art thumbnails itself on port 1400).
func albumArtFromMetadata(metadata string, dev *Device) string {
	if metadata == "" {
		return ""
	}

	var didl didlLite
	if err := xml.Unmarshal([]byte(html.UnescapeString(metadata)), &didl); err != nil {
		return ""
	}
	if len(didl.Items) == 0 {
		return ""
	}

	art := strings.TrimSpace(didl.Items[0].AlbumArtURI)
	if art == "" {
		return ""
	}
	if strings.HasPrefix(art, "http://") || strings.HasPrefix(art, "https://") {
		return art
	}
	if !strings.HasPrefix(art, "/") {
		art = "/" + art
	}
	return fmt.Sprintf("http://%s:%d%s", dev.IP, dev.Port, art)
}

// parseTrackTime parses Sonos H:MM:SS (or MM:SS) time strings.
// "NOT_IMPLEMENTED" and malformed values yield zero.
func parseTrackTime(s string) time.Duration {
	parts := strings.Split(s, ":")
	var h, m, sec int
	var err error
	switch len(parts) {
	case 3:
		if h, err = strconv.Atoi(parts[0]); err != nil {
			return 0
		}
		if m, err = strconv.Atoi(parts[1]); err != nil {
			return 0
		}
		if sec, err = strconv.Atoi(parts[2]); err != nil {
			return 0
		}
	case 2:
		if m, err = strconv.Atoi(parts[0]); err != nil {
			return 0
		}
		if sec, err = strconv.Atoi(parts[1]); err != nil {
			return 0
		}
	default:
		return 0
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
}

// formatTrackTime renders a duration as the H:MM:SS form Seek expects
func formatTrackTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
