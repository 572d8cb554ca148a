package sonos

import (
	"context"
	"fmt"
	"html"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"sonospi/internal/config"
	"sonospi/internal/domain"
)

// fakeSpeaker is an httptest server answering the UPnP SOAP calls the
// watcher makes, standing in for one Sonos coordinator
type fakeSpeaker struct {
	server *httptest.Server
	host   string
	port   int

	mu             sync.Mutex
	transportState string
	trackURI       string
	relTime        string
	duration       string
	artPath        string
	failPosition   bool
	commands       []string
}

func newFakeSpeaker(t *testing.T) *fakeSpeaker {
	t.Helper()
	s := &fakeSpeaker{
		transportState: "PLAYING",
		trackURI:       "x-sonos-spotify:track1",
		relTime:        "0:01:30",
		duration:       "0:03:00",
		artPath:        "/getaa?s=1&u=track1",
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.server.Close)

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(s.server.URL, "http://"))
	if err != nil {
		t.Fatal(err)
	}
	s.host = host
	s.port, _ = strconv.Atoi(portStr)
	return s
}

func (s *fakeSpeaker) device() *Device {
	return &Device{IP: s.host, Port: s.port, UUID: "RINCON_A", Name: "Living Room"}
}

func (s *fakeSpeaker) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	action := r.Header.Get("SOAPAction")
	switch {
	case strings.Contains(action, "GetZoneGroupState"):
		inner := fmt.Sprintf(
			`<ZoneGroupState><ZoneGroups><ZoneGroup Coordinator="RINCON_A" ID="RINCON_A:1">`+
				`<ZoneGroupMember UUID="RINCON_A" Location="http://%s:%d/xml/device_description.xml" ZoneName="Living Room"/>`+
				`</ZoneGroup></ZoneGroups></ZoneGroupState>`, s.host, s.port)
		fmt.Fprint(w, soapEnvelope("GetZoneGroupStateResponse",
			"<ZoneGroupState>"+html.EscapeString(inner)+"</ZoneGroupState>"))

	case strings.Contains(action, "GetTransportInfo"):
		fmt.Fprint(w, soapEnvelope("GetTransportInfoResponse",
			"<CurrentTransportState>"+s.transportState+"</CurrentTransportState><CurrentTransportStatus>OK</CurrentTransportStatus>"))

	case strings.Contains(action, "GetPositionInfo"):
		if s.failPosition {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		// Sonos ships the DIDL document escaped inside the already escaped
		// SOAP body, so the wire form is escaped twice
		didl := fmt.Sprintf(
			`<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/" xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/">`+
				`<item><dc:title>Song</dc:title><upnp:albumArtURI>%s</upnp:albumArtURI></item></DIDL-Lite>`,
			html.EscapeString(s.artPath))
		metadata := html.EscapeString(html.EscapeString(didl))
		fmt.Fprint(w, soapEnvelope("GetPositionInfoResponse",
			"<Track>1</Track>"+
				"<TrackDuration>"+s.duration+"</TrackDuration>"+
				"<TrackMetaData>"+metadata+"</TrackMetaData>"+
				"<TrackURI>"+s.trackURI+"</TrackURI>"+
				"<RelTime>"+s.relTime+"</RelTime>"))

	case strings.Contains(action, "Pause"),
		strings.Contains(action, "Play"),
		strings.Contains(action, "Next"),
		strings.Contains(action, "Seek"):
		for _, name := range []string{"Pause", "Play", "Next", "Seek"} {
			if strings.Contains(action, name) {
				s.commands = append(s.commands, name)
				break
			}
		}
		fmt.Fprint(w, soapEnvelope("CommandResponse", ""))

	default:
		http.Error(w, "unexpected action "+action, http.StatusBadRequest)
	}
}

func soapEnvelope(response, body string) string {
	return `<?xml version="1.0"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><u:` +
		response + ` xmlns:u="urn:schemas-upnp-org:service:AVTransport:1">` + body + `</u:` + response + `></s:Body></s:Envelope>`
}

func (s *fakeSpeaker) sentCommands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// newTestWatcher builds a watcher with the SSDP cache pre-seeded, so no
// network multicast happens in tests
func newTestWatcher(s *fakeSpeaker) *Watcher {
	w := NewWatcher(zap.NewNop(), config.Default())
	w.devices = []*Device{s.device()}
	w.lastScan = time.Now()
	return w
}

func TestSnapshotPlaying(t *testing.T) {
	speaker := newFakeSpeaker(t)
	w := newTestWatcher(speaker)

	snap, err := w.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if snap.CoordinatorID != "RINCON_A" {
		t.Errorf("coordinator = %q, want RINCON_A", snap.CoordinatorID)
	}
	if snap.State != domain.StatePlaying {
		t.Errorf("state = %v, want PLAYING", snap.State)
	}
	if snap.TrackID != "x-sonos-spotify:track1" {
		t.Errorf("track = %q", snap.TrackID)
	}
	wantArt := fmt.Sprintf("http://%s:%d/getaa?s=1&u=track1", speaker.host, speaker.port)
	if snap.ArtworkURI != wantArt {
		t.Errorf("artwork = %q, want %q", snap.ArtworkURI, wantArt)
	}
	if snap.Position != 90*time.Second {
		t.Errorf("position = %v, want 1m30s", snap.Position)
	}
	if snap.Duration != 3*time.Minute {
		t.Errorf("duration = %v, want 3m", snap.Duration)
	}
}

func TestSnapshotPaused(t *testing.T) {
	speaker := newFakeSpeaker(t)
	speaker.transportState = "PAUSED_PLAYBACK"
	w := newTestWatcher(speaker)

	snap, err := w.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.State != domain.StatePaused {
		t.Errorf("state = %v, want PAUSED", snap.State)
	}
	// paused snapshots still carry track and position for the resume policy
	if snap.TrackID == "" || snap.Position == 0 {
		t.Error("paused snapshot should carry track and position")
	}
}

// A coordinator failing mid-query must yield an error, never a partial
// snapshot
func TestSnapshotAtomicFailure(t *testing.T) {
	speaker := newFakeSpeaker(t)
	speaker.failPosition = true
	w := newTestWatcher(speaker)

	snap, err := w.Snapshot(context.Background())
	if err == nil {
		t.Fatal("expected error when position query fails")
	}
	if snap != nil {
		t.Errorf("got partial snapshot %+v alongside error", snap)
	}
}

// Commands go to the coordinator selected by the last snapshot
func TestCommandsTargetCoordinator(t *testing.T) {
	speaker := newFakeSpeaker(t)
	w := newTestWatcher(speaker)
	ctx := context.Background()

	if err := w.Pause(ctx); err != ErrNoCoordinator {
		t.Fatalf("pause before snapshot = %v, want ErrNoCoordinator", err)
	}

	if _, err := w.Snapshot(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Pause(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := w.Seek(ctx, 194*time.Second); err != nil {
		t.Fatalf("seek: %v", err)
	}

	got := speaker.sentCommands()
	if len(got) != 2 || got[0] != "Pause" || got[1] != "Seek" {
		t.Errorf("commands = %v, want [Pause Seek]", got)
	}
}

func TestMapTransportState(t *testing.T) {
	tests := []struct {
		in   string
		want domain.TransportState
	}{
		{"PLAYING", domain.StatePlaying},
		{"PAUSED_PLAYBACK", domain.StatePaused},
		{"STOPPED", domain.StateStopped},
		{"NO_MEDIA_PRESENT", domain.StateStopped},
		{"TRANSITIONING", domain.StateTransitioning},
		{"SOMETHING_ELSE", domain.StateUnknown},
	}
	for _, tt := range tests {
		if got := mapTransportState(tt.in); got != tt.want {
			t.Errorf("mapTransportState(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// A PLAYING coordinator whose position never advances is a ghost state and
// must not count as playing past the stale window
func TestIsStale(t *testing.T) {
	w := NewWatcher(zap.NewNop(), config.Default())
	w.staleWindow = 50 * time.Millisecond

	if w.isStale("RINCON_A", 10*time.Second) {
		t.Fatal("first sample can never be stale")
	}
	if w.isStale("RINCON_A", 10*time.Second) {
		t.Fatal("frozen position inside the window is not yet stale")
	}

	time.Sleep(60 * time.Millisecond)
	if !w.isStale("RINCON_A", 10*time.Second) {
		t.Fatal("frozen position past the window must be stale")
	}

	if w.isStale("RINCON_A", 11*time.Second) {
		t.Error("advancing position clears staleness")
	}
}

// A seek backwards is movement: it must re-baseline the frozen-position
// reference, not start (or keep) a staleness countdown
func TestIsStaleSeekBack(t *testing.T) {
	w := NewWatcher(zap.NewNop(), config.Default())
	w.staleWindow = 50 * time.Millisecond

	w.isStale("RINCON_A", 100*time.Second)
	if w.isStale("RINCON_A", 50*time.Second) {
		t.Fatal("seek-back itself must not be stale")
	}

	time.Sleep(60 * time.Millisecond)
	if w.isStale("RINCON_A", 51*time.Second) {
		t.Fatal("track advancing after a seek-back must not be stale")
	}

	time.Sleep(60 * time.Millisecond)
	if !w.isStale("RINCON_A", 51*time.Second) {
		t.Error("position frozen after the seek-back must still go stale")
	}
}

func TestParseZoneGroupState(t *testing.T) {
	xmlData := `<ZoneGroupState><ZoneGroups>` +
		`<ZoneGroup Coordinator="RINCON_A" ID="RINCON_A:1">` +
		`<ZoneGroupMember UUID="RINCON_A" Location="http://192.168.1.5:1400/xml/device_description.xml" ZoneName="Living Room"/>` +
		`<ZoneGroupMember UUID="RINCON_B" Location="http://192.168.1.6:1400/xml/device_description.xml" ZoneName="Kitchen"/>` +
		`</ZoneGroup>` +
		`</ZoneGroups></ZoneGroupState>`

	groups, err := parseZoneGroupState(xmlData)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}

	g := groups[0]
	if g.Coordinator == nil || g.Coordinator.UUID != "RINCON_A" {
		t.Fatalf("coordinator = %+v, want RINCON_A", g.Coordinator)
	}
	if g.Coordinator.IP != "192.168.1.5" || g.Coordinator.Port != 1400 {
		t.Errorf("coordinator address = %s:%d", g.Coordinator.IP, g.Coordinator.Port)
	}
	if len(g.Members) != 2 {
		t.Errorf("got %d members, want 2", len(g.Members))
	}
}
