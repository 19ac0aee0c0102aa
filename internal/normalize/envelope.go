package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// envelopeKeys are the object keys upstream versions have used to wrap the
// session array, in lookup order.
var envelopeKeys = []string{
	"sessions",
	"data",
	"items",
	"results",
	"records",
	"recordings",
	"callSessions",
	"conversations",
	"entities",
}

const maxEnvelopeDepth = 2

// ExtractSessions pulls the raw session records out of a response body. A
// bare array is returned as is; an object is searched for a known envelope
// key up to two levels deep. An object with no known key yields an empty
// page.
func ExtractSessions(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformed)
	}
	switch trimmed[0] {
	case '[', '{':
	default:
		return nil, fmt.Errorf("%w: unexpected body", ErrMalformed)
	}
	items, found, err := extract(trimmed, 0)
	if err != nil {
		return nil, err
	}
	if !found {
		return []json.RawMessage{}, nil
	}
	return items, nil
}

func extract(raw []byte, depth int) ([]json.RawMessage, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, false, nil
	}
	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return items, true, nil
	case '{':
		if depth >= maxEnvelopeDepth {
			return nil, false, nil
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		for _, key := range envelopeKeys {
			nested, ok := obj[key]
			if !ok {
				continue
			}
			items, found, err := extract(nested, depth+1)
			if err != nil {
				return nil, false, err
			}
			if found {
				return items, true, nil
			}
		}
	}
	return nil, false, nil
}
