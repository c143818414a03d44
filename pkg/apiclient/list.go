package apiclient

import (
	"bytes"
	"encoding/json"
)

// listResponse accepts both a bare JSON array and an {items: [...]} envelope.
type listResponse[T any] struct {
	Items []T
}

func (l *listResponse[T]) UnmarshalJSON(data []byte) error {
	return decodeList(data, &l.Items)
}

func decodeList[T any](data []byte, out *[]T) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*out = nil
		return nil
	}
	if data[0] == '[' {
		return json.Unmarshal(data, out)
	}
	var envelope struct {
		Items   []T `json:"items"`
		Results []T `json:"results"`
		Data    []T `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	switch {
	case envelope.Items != nil:
		*out = envelope.Items
	case envelope.Results != nil:
		*out = envelope.Results
	default:
		*out = envelope.Data
	}
	return nil
}
