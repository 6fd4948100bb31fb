package logging

import "slices"

const (
	categoryKey    ExtraKey = "Category"
	subCategoryKey ExtraKey = "SubCategory"
)

// withCategory returns a copy of extra tagged with the category pair. The
// caller's map is never modified, so it may be shared between goroutines.
func withCategory(cat Category, sub SubCategory, extra map[ExtraKey]any) map[ExtraKey]any {
	out := make(map[ExtraKey]any, len(extra)+2)
	for k, v := range extra {
		out[k] = v
	}
	out[categoryKey] = cat
	out[subCategoryKey] = sub
	return out
}

// zapFields flattens extra into sugared key/value pairs in key order.
func zapFields(extra map[ExtraKey]any) []any {
	keys := make([]ExtraKey, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	fields := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		fields = append(fields, string(k), extra[k])
	}
	return fields
}

func zeroFields(extra map[ExtraKey]any) map[string]any {
	fields := make(map[string]any, len(extra))
	for k, v := range extra {
		fields[string(k)] = v
	}
	return fields
}
