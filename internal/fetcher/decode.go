package fetcher

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Shape tells which strategy located the records in a response body.
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapeArray
	ShapeData
	ShapeKeyed
)

func (s Shape) String() string {
	switch s {
	case ShapeArray:
		return "array"
	case ShapeData:
		return "data"
	case ShapeKeyed:
		return "keyed"
	default:
		return "unknown"
	}
}

type shapeStrategy struct {
	shape   Shape
	extract func(body any, keys []string) ([]any, bool)
}

// Strategies are tried in order; the first match wins.
var shapeStrategies = []shapeStrategy{
	{shape: ShapeArray, extract: func(body any, _ []string) ([]any, bool) {
		arr, ok := body.([]any)
		return arr, ok
	}},
	{shape: ShapeData, extract: func(body any, _ []string) ([]any, bool) {
		return arrayAt(body, "data")
	}},
	{shape: ShapeKeyed, extract: func(body any, keys []string) ([]any, bool) {
		for _, key := range keys {
			if arr, ok := arrayAt(body, key); ok {
				return arr, true
			}
		}
		return nil, false
	}},
}

func arrayAt(body any, key string) ([]any, bool) {
	obj, ok := body.(map[string]any)
	if !ok {
		return nil, false
	}
	arr, ok := obj[key].([]any)
	return arr, ok
}

// Page is one decoded response. Items counts every element of the located array,
// including the non-object ones that were dropped from Records.
type Page struct {
	Records []map[string]any
	Items   int
	Shape   Shape
}

// Decode extracts record objects from body. An unrecognized but valid JSON body
// yields ShapeUnknown with no records and no error.
func Decode(body []byte, keys []string) ([]map[string]any, Shape, error) {
	page, err := DecodePage(body, keys)
	return page.Records, page.Shape, err
}

func DecodePage(body []byte, keys []string) (Page, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		return Page{}, fmt.Errorf("decode response: %w", err)
	}

	for _, strategy := range shapeStrategies {
		items, ok := strategy.extract(parsed, keys)
		if !ok {
			continue
		}
		records := make([]map[string]any, 0, len(items))
		for _, item := range items {
			if obj, ok := item.(map[string]any); ok {
				records = append(records, obj)
			}
		}
		return Page{Records: records, Items: len(items), Shape: strategy.shape}, nil
	}
	return Page{}, nil
}
