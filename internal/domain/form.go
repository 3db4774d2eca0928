package domain

import "sort"

// OrderForm lists form values following order, then any remaining keys sorted by name.
// Duplicate or unknown names in order are ignored.
func OrderForm(data map[string]string, order []string) []FormField {
	fields := make([]FormField, 0, len(data))
	seen := make(map[string]struct{}, len(data))

	for _, name := range order {
		v, ok := data[name]
		if !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		fields = append(fields, FormField{Name: name, Value: v})
	}

	var rest []string
	for name := range data {
		if _, ok := seen[name]; !ok {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		fields = append(fields, FormField{Name: name, Value: data[name]})
	}

	return fields
}
