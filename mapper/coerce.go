// Package mapper normalizes driver values and converts result rows to Go types.
package mapper

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NormalizeValue converts driver-specific representations to plain Go
// values. Drivers return text columns as []byte; those become strings.
func NormalizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case *interface{}:
		if v == nil {
			return nil
		}
		return NormalizeValue(*v)
	default:
		return value
	}
}

// NormalizeRow normalizes every value of row in place and returns it.
func NormalizeRow(row map[string]interface{}) map[string]interface{} {
	for k, v := range row {
		row[k] = NormalizeValue(v)
	}
	return row
}

// ToString converts any value to a string. nil becomes "".
func ToString(value interface{}) string {
	switch v := NormalizeValue(value).(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ToInt64 converts a value to an integer.
func ToInt64(value interface{}) (int64, error) {
	switch v := NormalizeValue(value).(type) {
	case nil:
		return 0, fmt.Errorf("cannot convert nil to int")
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert '%s' to int: %w", v, err)
		}
		return i, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int", value)
	}
}

// ToFloat64 converts a value to a float.
func ToFloat64(value interface{}) (float64, error) {
	switch v := NormalizeValue(value).(type) {
	case nil:
		return 0, fmt.Errorf("cannot convert nil to float")
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert '%s' to float: %w", v, err)
		}
		return f, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		i, err := ToInt64(v)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %T to float", value)
		}
		return float64(i), nil
	}
}

// ToBool converts a value to a boolean. nil is false.
func ToBool(value interface{}) (bool, error) {
	switch v := NormalizeValue(value).(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "t", "yes", "y", "1":
			return true, nil
		case "false", "f", "no", "n", "0", "":
			return false, nil
		}
		return false, fmt.Errorf("cannot convert '%s' to bool", v)
	default:
		i, err := ToInt64(v)
		if err != nil {
			return false, fmt.Errorf("cannot convert %T to bool", value)
		}
		return i != 0, nil
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ToTime converts a value to a time. Strings are parsed with the layouts
// MySQL and SQLite use; integers are Unix seconds.
func ToTime(value interface{}) (time.Time, error) {
	switch v := NormalizeValue(value).(type) {
	case nil:
		return time.Time{}, fmt.Errorf("cannot convert nil to time")
	case time.Time:
		return v, nil
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse '%s' as time", v)
	default:
		secs, err := ToInt64(v)
		if err != nil {
			return time.Time{}, fmt.Errorf("cannot convert %T to time", value)
		}
		return time.Unix(secs, 0).UTC(), nil
	}
}
