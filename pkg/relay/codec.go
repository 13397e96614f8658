package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope is the decoded view of one inbound payload. Raw retains the exact
// bytes for pass-through forwarding; fields keeps every top-level member so
// unknown fields survive a fromPeerId injection.
type Envelope struct {
	Type       string
	From       string // fromPeerId, "" when absent
	Target     string // targetPeerId, "" when absent
	Network    string // networkName, "" when absent
	IsHub      bool   // data.isHub
	DataPeerID string // data.peerId

	Raw    []byte
	fields map[string]json.RawMessage
}

var errNoType = errors.New("missing message type")

// Decode extracts the envelope by key lookup. Unknown fields and field order
// are tolerated; only a missing or unparsable type is fatal to the message.
func Decode(payload []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("unparsable payload: %w", err)
	}
	raw, ok := fields["type"]
	if !ok {
		return nil, errNoType
	}
	var typ string
	if err := json.Unmarshal(raw, &typ); err != nil || typ == "" {
		return nil, errNoType
	}
	env := &Envelope{Type: typ, Raw: payload, fields: fields}
	env.From = stringField(fields, "fromPeerId")
	env.Target = stringField(fields, "targetPeerId")
	env.Network = stringField(fields, "networkName")
	if d, ok := fields["data"]; ok {
		var data struct {
			PeerID string `json:"peerId"`
			IsHub  bool   `json:"isHub"`
		}
		if err := json.Unmarshal(d, &data); err == nil {
			env.DataPeerID = data.PeerID
			env.IsHub = data.IsHub
		}
	}
	return env, nil
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// WithFrom returns the payload with fromPeerId set to sender when the field
// is absent, and the original bytes untouched when it is already present.
func (e *Envelope) WithFrom(sender string) []byte {
	if e.From != "" {
		return e.Raw
	}
	out := make(map[string]json.RawMessage, len(e.fields)+1)
	for k, v := range e.fields {
		out[k] = v
	}
	from, _ := json.Marshal(sender)
	out["fromPeerId"] = from
	enc, err := json.Marshal(out)
	if err != nil {
		return e.Raw
	}
	return enc
}
