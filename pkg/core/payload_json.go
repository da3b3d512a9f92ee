// pkg/core/payload_json.go
package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type payloadHead struct {
	Type string `json:"type"`
}

// MarshalPayload encodes a payload as a JSON object with a "type" field.
// A nil payload encodes as null.
func MarshalPayload(p Payload) ([]byte, error) {
	switch v := p.(type) {
	case nil:
		return []byte("null"), nil
	case *NetworkPayload:
		return json.Marshal(struct {
			Type string `json:"type"`
			*NetworkPayload
		}{TypeNetwork, v})
	case *IPCPayload:
		return json.Marshal(struct {
			Type string `json:"type"`
			*IPCPayload
		}{TypeIPC, v})
	case *FileIOPayload:
		return json.Marshal(struct {
			Type string `json:"type"`
			*FileIOPayload
		}{TypeFileIO, v})
	case *ScreenshotPayload:
		return json.Marshal(struct {
			Type string `json:"type"`
			*ScreenshotPayload
		}{TypeCompositorScreenshot, v})
	case *GenericPayload:
		fields := make(map[string]any, len(v.Fields)+1)
		for k, val := range v.Fields {
			fields[k] = val
		}
		fields["type"] = v.Type
		return json.Marshal(fields)
	default:
		return nil, fmt.Errorf("unsupported payload %T", p)
	}
}

// UnmarshalPayload decodes a payload produced by MarshalPayload. Empty input
// and null decode to a nil payload; unknown types become a GenericPayload.
func UnmarshalPayload(data []byte) (Payload, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	var head payloadHead
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("error decoding payload type: %w", err)
	}

	var p Payload
	switch head.Type {
	case TypeNetwork:
		p = &NetworkPayload{}
	case TypeIPC:
		p = &IPCPayload{}
	case TypeFileIO:
		p = &FileIOPayload{}
	case TypeCompositorScreenshot:
		p = &ScreenshotPayload{}
	default:
		fields := map[string]any{}
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("error decoding %s payload: %w", head.Type, err)
		}
		delete(fields, "type")
		return &GenericPayload{Type: head.Type, Fields: fields}, nil
	}

	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("error decoding %s payload: %w", head.Type, err)
	}
	return p, nil
}

// MarshalDerived encodes a derived payload the same way MarshalPayload
// encodes raw ones.
func MarshalDerived(d DerivedPayload) ([]byte, error) {
	switch v := d.(type) {
	case nil:
		return []byte("null"), nil
	case *NetworkData:
		return MarshalPayload(&v.NetworkPayload)
	case *IPCData:
		return MarshalPayload(&v.IPCPayload)
	case *ScreenshotData:
		return MarshalPayload(&v.ScreenshotPayload)
	case *FileIOData:
		return json.Marshal(struct {
			Type string `json:"type"`
			*FileIOData
		}{TypeFileIO, v})
	case *GenericData:
		return MarshalPayload(&GenericPayload{Type: v.Type, Fields: v.Fields})
	default:
		return nil, fmt.Errorf("unsupported derived payload %T", d)
	}
}
