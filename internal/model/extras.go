package model

import "encoding/json"

// mergeExtra folds extra's keys back into encoded (the JSON object produced
// by marshaling a type's known fields), skipping any key encoded already
// defines. This is what lets ServerState/Task/AgentInfo/FileLock round-trip
// a field written by a newer version of the coordinator without dropping it
// on the next rewrite.
func mergeExtra(encoded []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return encoded, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &m); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// splitExtra re-decodes data as a generic object and returns every
// top-level key not present in known, so the caller can stash them on an
// Extra field instead of silently discarding them.
func splitExtra(data []byte, known map[string]struct{}) (map[string]json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	var extra map[string]json.RawMessage
	for k, v := range m {
		if _, ok := known[k]; ok {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = v
	}
	return extra, nil
}
