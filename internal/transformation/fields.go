package transformation

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/spf13/cast"

	"github.com/shaiso/Citydata/internal/errs"
)

// Хелперы разбора полей сырых записей.
//
// Optional* никогда не возвращают NaN: неразбираемое или отсутствующее
// значение становится nil. Required* возвращают ошибку валидации
// с именем трансформации и поля.

// toFloat разбирает число. present=false — значение отсутствует (nil, пустая строка).
func toFloat(v any) (f float64, present bool, err error) {
	switch x := v.(type) {
	case nil:
		return 0, false, nil
	case string:
		x = strings.TrimSpace(x)
		if x == "" {
			return 0, false, nil
		}
		v = x
	case *float64:
		if x == nil {
			return 0, false, nil
		}
		v = *x
	}

	f, err = cast.ToFloat64E(v)
	if err != nil {
		return 0, true, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, true, fmt.Errorf("value %v is not a finite number", v)
	}
	return f, true, nil
}

// OptionalFloat разбирает необязательное число.
func OptionalFloat(v any) *float64 {
	f, present, err := toFloat(v)
	if !present || err != nil {
		return nil
	}
	return &f
}

// OptionalInt разбирает необязательное целое. Дробные значения — nil.
func OptionalInt(v any) *int64 {
	f, present, err := toFloat(v)
	if !present || err != nil || f != math.Trunc(f) {
		return nil
	}
	n := int64(f)
	return &n
}

// RequiredFloat разбирает обязательное число.
func RequiredFloat(component, field string, v any) (float64, error) {
	f, present, err := toFloat(v)
	if !present {
		return 0, errs.Validation(component, fmt.Sprintf("field %q is required", field), false, nil)
	}
	if err != nil {
		return 0, errs.Validation(component, fmt.Sprintf("field %q is not a number", field), false, err)
	}
	return f, nil
}

// RequiredInt разбирает обязательное целое (например числовой ID).
func RequiredInt(component, field string, v any) (int64, error) {
	f, err := RequiredFloat(component, field, v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, errs.Validation(component, fmt.Sprintf("field %q is not an integer: %v", field, v), false, nil)
	}
	return int64(f), nil
}

// OptionalString возвращает nil для отсутствующей или пустой строки.
func OptionalString(v any) *string {
	if v == nil {
		return nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// RequiredString разбирает обязательную непустую строку.
func RequiredString(component, field string, v any) (string, error) {
	s := OptionalString(v)
	if s == nil {
		return "", errs.Validation(component, fmt.Sprintf("field %q is required", field), false, nil)
	}
	return *s, nil
}

// toTime разбирает дату: time.Time, строку в произвольном формате
// или unix timestamp (секунды или миллисекунды).
func toTime(v any) (t time.Time, present bool, err error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return x, !x.IsZero(), nil
	case string:
		x = strings.TrimSpace(x)
		if x == "" {
			return time.Time{}, false, nil
		}
		t, err = dateparse.ParseAny(x)
		return t, true, err
	}

	f, present, err := toFloat(v)
	if !present || err != nil {
		return time.Time{}, present, err
	}
	n := int64(f)
	// Всё, что больше 1e12, считаем миллисекундами
	if n > 1e12 {
		return time.UnixMilli(n).UTC(), true, nil
	}
	return time.Unix(n, 0).UTC(), true, nil
}

// OptionalTime разбирает необязательную дату.
func OptionalTime(v any) *time.Time {
	t, present, err := toTime(v)
	if !present || err != nil {
		return nil
	}
	return &t
}

// RequiredTime разбирает обязательную дату.
func RequiredTime(component, field string, v any) (time.Time, error) {
	t, present, err := toTime(v)
	if !present {
		return time.Time{}, errs.Validation(component, fmt.Sprintf("field %q is required", field), false, nil)
	}
	if err != nil {
		return time.Time{}, errs.Validation(component, fmt.Sprintf("field %q is not a date", field), false, err)
	}
	return t, nil
}
