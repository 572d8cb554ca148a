package sonos

import (
	"context"
	"encoding/xml"
	"fmt"
	"time"
)

// transportInfo is the AVTransport GetTransportInfo response payload
type transportInfo struct {
	CurrentTransportState  string `xml:"CurrentTransportState"`
	CurrentTransportStatus string `xml:"CurrentTransportStatus"`
}

// getTransportInfo retrieves the coordinator's transport state
func (c *soapClient) getTransportInfo(ctx context.Context, dev *Device) (*transportInfo, error) {
	args := map[string]string{"InstanceID": "0"}
	resp, err := c.Call(ctx, dev.IP, dev.Port, avTransportEndpoint, avTransportService, "GetTransportInfo", args)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Body struct {
			Response transportInfo `xml:"GetTransportInfoResponse"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(resp, &envelope); err != nil {
		return nil, fmt.Errorf("parse transport info: %w", err)
	}
	return &envelope.Body.Response, nil
}

// positionInfo is the AVTransport GetPositionInfo response payload
type positionInfo struct {
	Track         int    `xml:"Track"`
	TrackDuration string `xml:"TrackDuration"`
	TrackMetaData string `xml:"TrackMetaData"`
	TrackURI      string `xml:"TrackURI"`
	RelTime       string `xml:"RelTime"`
}

// getPositionInfo retrieves the current track, position, and metadata
func (c *soapClient) getPositionInfo(ctx context.Context, dev *Device) (*positionInfo, error) {
	args := map[string]string{"InstanceID": "0"}
	resp, err := c.Call(ctx, dev.IP, dev.Port, avTransportEndpoint, avTransportService, "GetPositionInfo", args)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Body struct {
			Response positionInfo `xml:"GetPositionInfoResponse"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(resp, &envelope); err != nil {
		return nil, fmt.Errorf("parse position info: %w", err)
	}
	return &envelope.Body.Response, nil
}

// play resumes playback on the coordinator
func (c *soapClient) play(ctx context.Context, dev *Device) error {
	args := map[string]string{"InstanceID": "0", "Speed": "1"}
	_, err := c.Call(ctx, dev.IP, dev.Port, avTransportEndpoint, avTransportService, "Play", args)
	return err
}

// pause pauses playback on the coordinator
func (c *soapClient) pause(ctx context.Context, dev *Device) error {
	args := map[string]string{"InstanceID": "0"}
	_, err := c.Call(ctx, dev.IP, dev.Port, avTransportEndpoint, avTransportService, "Pause", args)
	return err
}

// next skips to the next track on the coordinator
func (c *soapClient) next(ctx context.Context, dev *Device) error {
	args := map[string]string{"InstanceID": "0"}
	_, err := c.Call(ctx, dev.IP, dev.Port, avTransportEndpoint, avTransportService, "Next", args)
	return err
}

// seek moves the playback position within the current track
func (c *soapClient) seek(ctx context.Context, dev *Device, pos time.Duration) error {
	args := map[string]string{
		"InstanceID": "0",
		"Unit":       "REL_TIME",
		"Target":     formatTrackTime(pos),
	}
	_, err := c.Call(ctx, dev.IP, dev.Port, avTransportEndpoint, avTransportService, "Seek", args)
	return err
}
