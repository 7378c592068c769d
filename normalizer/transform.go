/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transform converts a raw payload value into the type its target expects.
type Transform func(value interface{}) (interface{}, error)

// timestampLayouts are tried in order for string timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var maxMinorUnits = decimal.NewFromInt(math.MaxInt64)

// AsString accepts strings and numbers.
func AsString(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	default:
		return nil, fmt.Errorf("cannot be read as text (%T)", value)
	}
}

// Trim is AsString with surrounding whitespace removed.
func Trim(value interface{}) (interface{}, error) {
	s, err := AsString(value)
	if err != nil {
		return nil, err
	}
	return strings.TrimSpace(s.(string)), nil
}

// AsMinorUnits reads an amount expressed in major units with the given
// currency exponent (2 for cents, 0 for currencies without a minor unit) and
// returns it in minor units. Amounts finer than the minor unit are refused.
func AsMinorUnits(exponent int32) Transform {
	return func(value interface{}) (interface{}, error) {
		var d decimal.Decimal
		var err error
		switch v := value.(type) {
		case string:
			d, err = decimal.NewFromString(strings.TrimSpace(v))
		case json.Number:
			d, err = decimal.NewFromString(v.String())
		case float64:
			d = decimal.NewFromFloat(v)
		case int:
			d = decimal.NewFromInt(int64(v))
		case int64:
			d = decimal.NewFromInt(v)
		default:
			return nil, fmt.Errorf("cannot be read as an amount (%T)", value)
		}
		if err != nil {
			return nil, fmt.Errorf("is not a number: %v", err)
		}

		minor := d.Shift(exponent)
		if !minor.IsInteger() {
			return nil, fmt.Errorf("has more precision than the currency allows: %s", d.String())
		}
		if minor.Abs().GreaterThan(maxMinorUnits) {
			return nil, errors.New("is out of range")
		}
		return minor.IntPart(), nil
	}
}

// AsTimestamp accepts RFC3339 style strings, a few common layouts, and unix
// timestamps in seconds or milliseconds.
func AsTimestamp(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromUnix(n), nil
		}
		return nil, fmt.Errorf("is not a recognised timestamp: %q", v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("is not a unix timestamp: %v", err)
		}
		return fromUnix(n), nil
	case float64:
		return fromUnix(int64(v)), nil
	case int64:
		return fromUnix(v), nil
	case int:
		return fromUnix(int64(v)), nil
	default:
		return nil, fmt.Errorf("cannot be read as a timestamp (%T)", value)
	}
}

func fromUnix(n int64) time.Time {
	if n > 1_000_000_000_000 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
