package server

import (
	"encoding/base64"

	"pilot/internal/logging"
	"pilot/internal/translate"
)

// clientMessage is the single inbound envelope. Type selects the handling;
// the remaining fields matter only for "cmd".
type clientMessage struct {
	Type   string            `json:"type"`
	Text   string            `json:"text,omitempty"`
	Audio  string            `json:"audio,omitempty"`
	Image  string            `json:"image,omitempty"`
	Screen *translate.Screen `json:"screen,omitempty"`
	GPS    *translate.GPS    `json:"gps,omitempty"`
	TS     int64             `json:"ts,omitempty"`
}

type pongMessage struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`
}

type displayMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	LatencyMS int64  `json:"latency_ms"`
}

type stateMessage struct {
	Type    string `json:"type"`
	State   string `json:"state"`
	Context string `json:"context"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// decodeMedia decodes base64 media from the wire. Invalid payloads degrade
// to absent media so the turn can still run on text.
func decodeMedia(kind, encoded, connID string) []byte {
	if encoded == "" {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		logging.Get(logging.CategoryServer).Warn("[%s] dropping undecodable %s payload: %v", connID, kind, err)
		return nil
	}
	return data
}

// toRequest converts a "cmd" message into a translation request.
func (m *clientMessage) toRequest(connID string) *translate.Request {
	req := &translate.Request{
		Text:  m.Text,
		Audio: decodeMedia("audio", m.Audio, connID),
		Image: decodeMedia("image", m.Image, connID),
		GPS:   m.GPS,
	}
	if m.Screen != nil {
		req.Screen = *m.Screen
	}
	return req
}
