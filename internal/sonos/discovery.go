package sonos

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	ssdpAddr = "239.255.255.250:1900"
	sonosURN = "urn:schemas-upnp-org:device:ZonePlayer:1"
)

var mSearchRequest = []byte(
	"M-SEARCH * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 2\r\n" +
		"ST: " + sonosURN + "\r\n" +
		"\r\n",
)

// Device represents a discovered Sonos device
type Device struct {
	IP   string
	Port int
	UUID string
	Name string
}

// discover performs one SSDP M-SEARCH scan and returns all responding Sonos
// devices. The scan lasts for the full timeout window; responders past the
// deadline are dropped.
func discover(ctx context.Context, logger *zap.Logger, timeout time.Duration) ([]*Device, error) {
	addr, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve ssdp addr: %w", err)
	}

	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	if _, err := conn.WriteToUDP(mSearchRequest, addr); err != nil {
		return nil, fmt.Errorf("send m-search: %w", err)
	}

	var devices []*Device
	seen := make(map[string]bool)
	buf := make([]byte, 2048)

	for {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		n, remoteAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				break // scan window elapsed
			}
			continue
		}

		device := parseSSDPResponse(buf[:n], remoteAddr)
		if device == nil || seen[device.UUID] {
			continue
		}
		seen[device.UUID] = true
		devices = append(devices, device)

		logger.Debug("SSDP responder",
			zap.String("ip", device.IP),
			zap.String("uuid", device.UUID))
	}

	return devices, nil
}

// parseSSDPResponse parses an SSDP response into a Device
func parseSSDPResponse(data []byte, addr *net.UDPAddr) *Device {
	resp, err := http.ReadResponse(bufio.NewReader(strings.NewReader(string(data))), nil)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.Header.Get("ST") != sonosURN {
		return nil
	}

	uuid := extractUUID(resp.Header.Get("USN"))
	if uuid == "" {
		return nil
	}

	port := 1400 // default Sonos control port
	if location := resp.Header.Get("Location"); location != "" {
		parts := strings.Split(location, ":")
		if len(parts) >= 3 {
			portStr := strings.Split(parts[2], "/")[0]
			fmt.Sscanf(portStr, "%d", &port)
		}
	}

	return &Device{
		IP:   addr.IP.String(),
		Port: port,
		UUID: uuid,
	}
}

// extractUUID extracts the device UUID from a USN header.
// Format: uuid:RINCON_xxx::urn:schemas-upnp-org:device:ZonePlayer:1
func extractUUID(usn string) string {
	if !strings.HasPrefix(usn, "uuid:") {
		return ""
	}
	parts := strings.Split(usn, "::")
	return strings.TrimPrefix(parts[0], "uuid:")
}
