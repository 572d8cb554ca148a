package sonos

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"strconv"
	"strings"
)

// Group represents a Sonos speaker group. Display decisions only ever involve
// the coordinator; non-coordinator members are carried for diagnostics.
type Group struct {
	ID          string
	Coordinator *Device
	Members     []*Device
}

// zoneGroups queries the zone group topology from any reachable device.
// A grouped system reports the same topology from every member.
func (c *soapClient) zoneGroups(ctx context.Context, dev *Device) ([]Group, error) {
	resp, err := c.Call(ctx, dev.IP, dev.Port, zoneGroupTopologyEndpoint, zoneGroupTopologyService, "GetZoneGroupState", nil)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Body struct {
			Response struct {
				ZoneGroupState string `xml:"ZoneGroupState"`
			} `xml:"GetZoneGroupStateResponse"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(resp, &envelope); err != nil {
		return nil, fmt.Errorf("parse topology response: %w", err)
	}

	return parseZoneGroupState(html.UnescapeString(envelope.Body.Response.ZoneGroupState))
}

// parseZoneGroupState parses the inner zone group topology XML
func parseZoneGroupState(xmlData string) ([]Group, error) {
	type zoneMember struct {
		UUID     string `xml:"UUID,attr"`
		Location string `xml:"Location,attr"`
		ZoneName string `xml:"ZoneName,attr"`
	}
	type zoneGroup struct {
		Coordinator string       `xml:"Coordinator,attr"`
		ID          string       `xml:"ID,attr"`
		Members     []zoneMember `xml:"ZoneGroupMember"`
	}
	type zoneGroupState struct {
		ZoneGroups struct {
			Groups []zoneGroup `xml:"ZoneGroup"`
		} `xml:"ZoneGroups"`
	}

	var state zoneGroupState
	if err := xml.Unmarshal([]byte(xmlData), &state); err != nil {
		return nil, fmt.Errorf("parse zone group state: %w", err)
	}

	var groups []Group
	for _, zg := range state.ZoneGroups.Groups {
		group := Group{ID: zg.ID}
		for _, m := range zg.Members {
			dev := &Device{
				UUID: m.UUID,
				Name: m.ZoneName,
			}
			dev.IP, dev.Port = hostFromLocation(m.Location)
			if m.UUID == zg.Coordinator {
				group.Coordinator = dev
			}
			group.Members = append(group.Members, dev)
		}
		// Topology without a resolvable coordinator is useless for display
		if group.Coordinator != nil {
			groups = append(groups, group)
		}
	}
	return groups, nil
}

// hostFromLocation extracts the host and control port from a device
// description URL (http://192.168.1.5:1400/xml/device_description.xml)
func hostFromLocation(location string) (string, int) {
	parts := strings.Split(location, "//")
	if len(parts) < 2 {
		return "", 1400
	}
	hostPort := strings.Split(parts[1], "/")[0]
	host, portStr, found := strings.Cut(hostPort, ":")
	port := 1400
	if found {
		if p, err := strconv.Atoi(portStr); err == nil {
			port = p
		}
	}
	return host, port
}
