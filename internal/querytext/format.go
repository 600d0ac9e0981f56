package querytext

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Format renders a parsed value in the shell dialect Sanitize reads, so that
// Sanitize(Format(v)) reproduces v. Dates are written as ISODate("...Z").
func Format(v interface{}) string {
	var sb strings.Builder
	writeValue(&sb, v)
	return sb.String()
}

func writeValue(sb *strings.Builder, v interface{}) {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		sb.WriteString(strconv.FormatBool(val))
	case string:
		sb.WriteString(strconv.Quote(val))
	case int:
		sb.WriteString(strconv.Itoa(val))
	case int32:
		sb.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		sb.WriteString(strconv.FormatInt(val, 10))
	case float64:
		s := strconv.FormatFloat(val, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEn") {
			s += ".0"
		}
		sb.WriteString(s)
	case time.Time:
		fmt.Fprintf(sb, "ISODate(%q)", val.UTC().Format("2006-01-02T15:04:05.000Z"))
	case primitive.DateTime:
		writeValue(sb, val.Time())
	case primitive.ObjectID:
		fmt.Fprintf(sb, "%q", val.Hex())
	case bson.D:
		sb.WriteByte('{')
		for i, e := range val {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(strconv.Quote(e.Key))
			sb.WriteString(": ")
			writeValue(sb, e.Value)
		}
		sb.WriteByte('}')
	case bson.M:
		writeValue(sb, toD(val))
	case bson.A:
		writeArray(sb, val)
	case []interface{}:
		writeArray(sb, val)
	default:
		fmt.Fprintf(sb, "%q", fmt.Sprint(val))
	}
}

func writeArray(sb *strings.Builder, arr []interface{}) {
	sb.WriteByte('[')
	for i, e := range arr {
		if i > 0 {
			sb.WriteString(", ")
		}
		writeValue(sb, e)
	}
	sb.WriteByte(']')
}

func toD(m bson.M) bson.D {
	d := make(bson.D, 0, len(m))
	for k, v := range m {
		d = append(d, bson.E{Key: k, Value: v})
	}
	return d
}
