package model

import (
	"fmt"
	"time"
)

// isoLayouts — допустимые формы ISO-8601 для дат метаданных.
// RFC3339Nano принимает и значения без дробной части секунд.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// filterLayouts — дополнительно принимаемые формы даты в фильтре списка.
var filterLayouts = []string{
	"01-02-2006",
	"01/02/2006",
}

// ParseISODate разбирает дату в строгом ISO-8601.
// Значения без часового пояса трактуются как UTC.
func ParseISODate(s string) (time.Time, error) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q не является датой ISO-8601", s)
}

// ParseFilterDate разбирает дату фильтра date_time: ISO-8601 или
// календарную дату в формате MM-DD-YYYY / MM/DD/YYYY.
func ParseFilterDate(s string) (time.Time, error) {
	if t, err := ParseISODate(s); err == nil {
		return t, nil
	}
	for _, layout := range filterLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q не является календарной датой", s)
}
