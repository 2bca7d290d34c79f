package loom

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/loomquery/loom/schema/field"
)

// castValue applies kind's cast to v, returning the
// casted Go value or a typed CastFailed-family error. A nil v bypasses
// casting entirely, matching setAttribute's "values of null or absent
// bypass casting" rule; callers check for nil before calling castValue.
func castValue(attribute string, kind field.Kind, v any) (any, error) {
	switch kind {
	case field.KindInt:
		return castInt(attribute, v)
	case field.KindFloat:
		return castFloat(attribute, v)
	case field.KindString:
		return castString(v), nil
	case field.KindBool:
		return castBool(v), nil
	case field.KindJSON:
		return castJSON(attribute, v)
	case field.KindDate:
		return castDate(attribute, v)
	default:
		return v, nil
	}
}

func castInt(attribute string, v any) (any, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case float32:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return nil, NewCastFailedError(attribute, "int", v, err)
		}
		return n, nil
	case []byte:
		return castInt(attribute, string(t))
	default:
		return nil, NewCastFailedError(attribute, "int", v, fmt.Errorf("unsupported type %T", v))
	}
}

func castFloat(attribute string, v any) (any, error) {
	switch t := v.(type) {
	case float32:
		return float64(t), nil
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, NewCastFailedError(attribute, "float", v, err)
		}
		return f, nil
	case []byte:
		return castFloat(attribute, string(t))
	default:
		return nil, NewCastFailedError(attribute, "float", v, fmt.Errorf("unsupported type %T", v))
	}
}

func castString(v any) any {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

// castBool applies the standard truthiness rule: 0, "", nil, and false
// are falsy; everything else is truthy.
func castBool(v any) any {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	case string:
		return t != ""
	case []byte:
		return len(t) != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case int32:
		return t != 0
	case float64:
		return t != 0
	case float32:
		return t != 0
	default:
		return true
	}
}

func castJSON(attribute string, v any) (any, error) {
	switch t := v.(type) {
	case string:
		var out any
		if err := json.Unmarshal([]byte(t), &out); err != nil {
			return nil, NewJSONParseError(attribute, v, err)
		}
		return out, nil
	case []byte:
		var out any
		if err := json.Unmarshal(t, &out); err != nil {
			return nil, NewJSONParseError(attribute, v, err)
		}
		return out, nil
	default:
		return v, nil
	}
}

func castDate(attribute string, v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			parsed, err = time.Parse("2006-01-02 15:04:05", t)
		}
		if err != nil {
			return nil, NewDateParseError(attribute, v, err)
		}
		return parsed, nil
	case []byte:
		return castDate(attribute, string(t))
	default:
		return nil, NewDateParseError(attribute, v, fmt.Errorf("unsupported type %T", v))
	}
}
