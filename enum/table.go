package enum

import "strings"

// Entry is one canonical key/value pair handed to BuildTable.
type Entry[T ~string, V any] struct {
	Key   T
	Value V
}

// Table is an immutable string-keyed lookup. Each canonical key is reachable
// through its exact, lower-case and upper-case spelling.
type Table[V any] struct {
	entries map[string]V
	keys    []string
}

// BuildTable constructs the final lookup in one pass. Every entry is stored
// under three keys (exact, lower, upper) pointing at the same value. A later
// entry with the same canonical key replaces the earlier one.
func BuildTable[T ~string, V any](entries ...Entry[T, V]) Table[V] {
	t := Table[V]{entries: make(map[string]V, 3*len(entries))}

	for _, e := range entries {
		exact := string(e.Key)
		if _, seen := t.entries[strings.ToUpper(exact)]; !seen {
			t.keys = append(t.keys, strings.ToUpper(exact))
		}

		t.entries[exact] = e.Value
		t.entries[strings.ToLower(exact)] = e.Value
		t.entries[strings.ToUpper(exact)] = e.Value
	}

	return t
}

// Get returns the value stored under key. Keys in mixed case that are not one
// of the three stored spellings are resolved through their upper-case form.
func (t Table[V]) Get(key string) (V, bool) {
	if v, ok := t.entries[key]; ok {
		return v, true
	}

	v, ok := t.entries[strings.ToUpper(key)]

	return v, ok
}

// Len returns the number of stored keys (three per canonical entry, fewer when
// spellings coincide).
func (t Table[V]) Len() int { return len(t.entries) }

// Keys returns the canonical upper-case keys in insertion order.
func (t Table[V]) Keys() []string {
	out := make([]string, len(t.keys))
	copy(out, t.keys)

	return out
}

//////
// Hub boundary tables.
//////

// Backend names the adapter implementing a data format.
type Backend struct {
	Package string
	Name    string
}

// ExportMap resolves a dataset format to the format it is exported as before
// training.
func ExportMap() Table[DataType] {
	return BuildTable(
		Entry[DataType, DataType]{YOLO, Ultralytics},
		Entry[DataType, DataType]{Ultralytics, Ultralytics},
		Entry[DataType, DataType]{COCO, COCO},
		Entry[DataType, DataType]{AutocareDLT, AutocareDLT},
		Entry[DataType, DataType]{Transformers, Transformers},
	)
}

// BackendMap resolves a dataset format to the adapter that trains on it.
func BackendMap() Table[Backend] {
	return BuildTable(
		Entry[DataType, Backend]{Ultralytics, Backend{Package: "hub/adapter/ultralytics", Name: "UltralyticsHub"}},
		Entry[DataType, Backend]{AutocareDLT, Backend{Package: "hub/adapter/autocaredlt", Name: "AutocareDLTHub"}},
		Entry[DataType, Backend]{Transformers, Backend{Package: "hub/adapter/transformers", Name: "TransformersHub"}},
	)
}
