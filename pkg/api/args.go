package api

import "maps"

type (
	// Args represents a map of named values passed to or from activities
	Args map[Name]any

	// Name is a string identifier for parameters and outputs
	Name string

	// ValueType declares the expected shape of a parameter or output value
	ValueType string
)

const (
	TypeAny    ValueType = "any"
	TypeString ValueType = "string"
	TypeNumber ValueType = "number"
	TypeBool   ValueType = "bool"
	TypeList   ValueType = "list"
	TypeMap    ValueType = "map"
)

// Set creates a new Args with the specified name-value pair added
func (a Args) Set(name Name, value any) Args {
	if a == nil {
		return Args{name: value}
	}
	res := maps.Clone(a)
	res[name] = value
	return res
}

// Merge creates a new Args containing all pairs from both maps, with the
// other map winning on key collisions
func (a Args) Merge(other Args) Args {
	if len(other) == 0 {
		return a
	}
	res := maps.Clone(a)
	if res == nil {
		res = Args{}
	}
	maps.Copy(res, other)
	return res
}

// GetString retrieves a string value from args, returning defaultValue if
// not found or wrong type
func (a Args) GetString(name Name, defaultValue string) string {
	val, ok := a[name]
	if !ok {
		return defaultValue
	}
	str, ok := val.(string)
	if !ok {
		return defaultValue
	}
	return str
}

// GetBool retrieves a boolean value from args, returning defaultValue if
// not found or wrong type
func (a Args) GetBool(name Name, defaultValue bool) bool {
	val, ok := a[name]
	if !ok {
		return defaultValue
	}
	b, ok := val.(bool)
	if !ok {
		return defaultValue
	}
	return b
}

// GetInt retrieves an integer value from args, returning defaultValue if
// not found or wrong type. Supports both int and float64 (converting from
// JSON numbers)
func (a Args) GetInt(name Name, defaultValue int) int {
	val, ok := a[name]
	if !ok {
		return defaultValue
	}
	if i, ok := val.(int); ok {
		return i
	}
	if f, ok := val.(float64); ok {
		return int(f)
	}
	return defaultValue
}

// GetStrings retrieves a string slice from args, accepting both []string
// and []any of strings (the latter from JSON decoding)
func (a Args) GetStrings(name Name) []string {
	val, ok := a[name]
	if !ok {
		return nil
	}
	if ss, ok := val.([]string); ok {
		return ss
	}
	list, ok := val.([]any)
	if !ok {
		return nil
	}
	res := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			res = append(res, s)
		}
	}
	return res
}

// CheckValue reports whether a value conforms to the declared type
func (t ValueType) CheckValue(v any) bool {
	switch t {
	case TypeAny, "":
		return true
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case TypeList:
		switch v.(type) {
		case []any, []string:
			return true
		}
		return false
	case TypeMap:
		switch v.(type) {
		case map[string]any, Args:
			return true
		}
		return false
	}
	return false
}

// Valid reports whether the value type is a known declaration
func (t ValueType) Valid() bool {
	switch t {
	case TypeAny, TypeString, TypeNumber, TypeBool, TypeList, TypeMap:
		return true
	}
	return false
}
