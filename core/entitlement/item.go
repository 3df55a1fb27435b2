package entitlement

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// RawItem is an item as received from clients or gateway metadata.
// `type` is accepted as an alias of `kind`; a numeric `id` is accepted as well.
type RawItem struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`

	raw string // set by DecodeItems when the element is not an item object
}

func (ri *RawItem) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID   json.RawMessage `json:"id"`
		Kind string          `json:"kind"`
		Type string          `json:"type"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	ri.Kind = aux.Kind
	if ri.Kind == "" {
		ri.Kind = aux.Type
	}
	ri.ID = ""
	if id := bytes.TrimSpace(aux.ID); len(id) > 0 {
		var s string
		if err := json.Unmarshal(id, &s); err == nil {
			ri.ID = s
		} else if _, err := json.Number(id).Float64(); err == nil {
			ri.ID = string(id)
		}
	}
	return nil
}

// Item normalizes the RawItem. The result may be invalid; see Item.Valid.
func (ri RawItem) Item() Item {
	return Item{
		ID:   strings.TrimSpace(ri.ID),
		Kind: ItemKind(strings.ToLower(strings.TrimSpace(ri.Kind))),
		raw:  ri.raw,
	}
}

// ToItems normalizes raws, keeping their order and any malformed entries.
func ToItems(raws []RawItem) []Item {
	items := make([]Item, 0, len(raws))
	for _, ri := range raws {
		items = append(items, ri.Item())
	}
	return items
}

// DecodeItems decodes a JSON array of items.
// An element that is not an item object decodes to an empty RawItem that remembers the element,
// so it is skipped and reported instead of failing the whole list.
func DecodeItems(data string) ([]RawItem, error) {
	if strings.TrimSpace(data) == "" {
		return nil, nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(data), &elems); err != nil {
		return nil, errors.Wrap(err, "decoding items")
	}
	raws := make([]RawItem, len(elems))
	for i, elem := range elems {
		if err := json.Unmarshal(elem, &raws[i]); err != nil {
			raws[i] = RawItem{raw: string(elem)}
		}
	}
	return raws, nil
}

// EncodeItems is the inverse of DecodeItems.
func EncodeItems(items []Item) (string, error) {
	if items == nil {
		items = []Item{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", errors.Wrap(err, "encoding items")
	}
	return string(data), nil
}
