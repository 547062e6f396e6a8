package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// LocalTime 统一以 RFC3339 输出，数据库中按 time 类型存储
type LocalTime time.Time

var localTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func FromTime(t time.Time) LocalTime {
	return LocalTime(t)
}

// NewLocalTime 返回指针形式，便于可空字段赋值
func NewLocalTime(t time.Time) *LocalTime {
	lt := LocalTime(t)
	return &lt
}

func (t LocalTime) ToTime() time.Time {
	return time.Time(t)
}

func (LocalTime) GormDataType() string {
	return "time"
}

func (t LocalTime) MarshalJSON() ([]byte, error) {
	tt := time.Time(t)
	if tt.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + tt.Format(time.RFC3339) + `"`), nil
}

func (t *LocalTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*t = LocalTime(time.Time{})
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	*t = LocalTime(parsed)
	return nil
}

func (t LocalTime) Value() (driver.Value, error) {
	tt := time.Time(t)
	if tt.IsZero() {
		return nil, nil
	}
	return tt, nil
}

func (t *LocalTime) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*t = LocalTime(time.Time{})
		return nil
	case time.Time:
		*t = LocalTime(v)
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("failed to scan LocalTime: unsupported type %T", value)
	}
}

func (t *LocalTime) parse(s string) error {
	for _, layout := range localTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = LocalTime(parsed)
			return nil
		}
	}
	return fmt.Errorf("failed to scan LocalTime: unrecognized format %q", s)
}
