package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Response is a decoded JSON object received on a get topic.
//
// MQTT+REST responses follow the shape
//
//	{"status": "200", "log": "OK", ...endpoint specific fields}
//
// but the driver is loose about types (status may be a string or a number,
// the message may live under "log" or "message"), so accessors normalise.
type Response map[string]any

// DecodeResponse parses payload as a JSON object.
// Numbers are kept as json.Number so large serials and statuses survive intact.
func DecodeResponse(payload []byte) (Response, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var resp Response
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrDecode)
	}
	return resp, nil
}

// String returns the value at key rendered as a trimmed string.
func (r Response) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Int returns the value at key as an integer, accepting numbers and numeric strings.
func (r Response) Int(key string) (int64, bool) {
	switch v := r[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		if f, err := v.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Bool returns the value at key as a boolean when it is one.
func (r Response) Bool(key string) (value bool, ok bool) {
	switch v := r[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return b, err == nil
	}
	return false, false
}

// Status returns the HTTP-like status ("" when the response carries none).
func (r Response) Status() string {
	return r.String("status")
}

// Log returns the diagnostic message, which the driver puts in "log" or "message".
func (r Response) Log() string {
	if msg := r.String("log"); msg != "" {
		return msg
	}
	return r.String("message")
}

// StatusOK reports whether the status is absent or starts with "200".
func (r Response) StatusOK() bool {
	status := r.Status()
	return status == "" || strings.HasPrefix(status, "200")
}
