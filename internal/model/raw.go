package model

import (
	"bytes"
	"encoding/json"

	"github.com/spf13/cast"
)

// DecodeRawFields decodes a bronze record into a field map. Numbers stay
// json.Number so integers survive unchanged.
func DecodeRawFields(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// SourceID reads the catalog id of a raw record: bgg_game_id, falling back
// to game_id. ok is false when neither holds a positive integer.
func SourceID(fields map[string]any) (int64, bool) {
	for _, f := range []string{"bgg_game_id", "game_id"} {
		v, present := fields[f]
		if !present || v == nil {
			continue
		}
		if id, err := cast.ToInt64E(v); err == nil && id > 0 {
			return id, true
		}
	}
	return 0, false
}
