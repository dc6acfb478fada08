package mapper

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
)

// fieldIndex maps lower-case column names to struct field index paths.
type fieldIndex map[string][]int

var indexCache sync.Map // reflect.Type -> fieldIndex

// Decode converts a row into a T, which must be a struct. Columns are
// matched case-insensitively against the `db` tag, or the field name when
// there is no tag. A tag of "-" skips the field. Unknown columns are ignored.
func Decode[T any](row map[string]interface{}) (T, error) {
	var out T
	rv := reflect.ValueOf(&out).Elem()
	if rv.Kind() != reflect.Struct {
		return out, fmt.Errorf("mapper: cannot decode into %s; use a struct", rv.Type())
	}

	idx := structIndex(rv.Type())
	for col, val := range row {
		path, ok := idx[strings.ToLower(col)]
		if !ok {
			continue
		}
		field := rv.FieldByIndex(path)
		if err := assign(field, val); err != nil {
			return out, fmt.Errorf("mapper: column %q: %w", col, err)
		}
	}
	return out, nil
}

// DecodeAll decodes every row.
func DecodeAll[T any](rows []map[string]interface{}) ([]T, error) {
	out := make([]T, 0, len(rows))
	for i, row := range rows {
		v, err := Decode[T](row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func structIndex(rt reflect.Type) fieldIndex {
	if v, ok := indexCache.Load(rt); ok {
		return v.(fieldIndex)
	}

	idx := make(fieldIndex)
	var walk func(t reflect.Type, base []int)
	walk = func(t reflect.Type, base []int) {
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if sf.PkgPath != "" && !sf.Anonymous {
				continue
			}
			tag := sf.Tag.Get("db")
			if tag == "-" {
				continue
			}
			path := append(append([]int(nil), base...), i)

			// Embedded structs without a tag contribute their fields.
			if sf.Anonymous && tag == "" && sf.Type.Kind() == reflect.Struct {
				walk(sf.Type, path)
				continue
			}
			name := strings.Split(tag, ",")[0]
			if name == "" {
				name = sf.Name
			}
			lc := strings.ToLower(name)
			if _, seen := idx[lc]; !seen {
				idx[lc] = path
			}
		}
	}
	walk(rt, nil)

	indexCache.Store(rt, idx)
	return idx
}

var timeType = reflect.TypeOf(time.Time{})

// assign stores val into field, converting between compatible kinds.
func assign(field reflect.Value, val interface{}) error {
	val = NormalizeValue(val)

	if val == nil {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}

	if field.Kind() == reflect.Ptr {
		elem := reflect.New(field.Type().Elem())
		if err := assign(elem.Elem(), val); err != nil {
			return err
		}
		field.Set(elem)
		return nil
	}

	src := reflect.ValueOf(val)
	if src.Type().AssignableTo(field.Type()) {
		field.Set(src)
		return nil
	}

	if field.Type() == timeType {
		t, err := ToTime(val)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(t))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(ToString(val))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := ToInt64(val)
		if err != nil {
			return err
		}
		if field.OverflowInt(i) {
			return fmt.Errorf("value %d overflows %s", i, field.Type())
		}
		field.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i, err := ToInt64(val)
		if err != nil {
			return err
		}
		if i < 0 || field.OverflowUint(uint64(i)) {
			return fmt.Errorf("value %d overflows %s", i, field.Type())
		}
		field.SetUint(uint64(i))
	case reflect.Float32, reflect.Float64:
		f, err := ToFloat64(val)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := ToBool(val)
		if err != nil {
			return err
		}
		field.SetBool(b)
	default:
		if src.Type().ConvertibleTo(field.Type()) {
			field.Set(src.Convert(field.Type()))
			return nil
		}
		return fmt.Errorf("cannot assign %T to %s", val, field.Type())
	}
	return nil
}
