package codec

import (
	"cmp"
	"fmt"
	"time"
)

// Date 不带时区的日期
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func DateOf(t time.Time) Date {
	year, month, day := t.Date()
	return Date{Year: year, Month: month, Day: day}
}

func ParseDate(text string) (Date, error) {
	t, err := time.Parse(dateLayout, text)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// In 返回该日期在 loc 时区零点的时间
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) Compare(other Date) int {
	if c := cmp.Compare(d.Year, other.Year); c != 0 {
		return c
	}
	if c := cmp.Compare(d.Month, other.Month); c != 0 {
		return c
	}
	return cmp.Compare(d.Day, other.Day)
}

// TimeOfDay 不带日期和时区的时刻，精确到秒
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}
}

func ParseTimeOfDay(text string) (TimeOfDay, error) {
	t, err := time.Parse(timeOfDayLayout, text)
	if err != nil {
		return TimeOfDay{}, err
	}
	return TimeOfDayOf(t), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

func (t TimeOfDay) Seconds() int {
	return t.Hour*3600 + t.Minute*60 + t.Second
}

func (t TimeOfDay) Compare(other TimeOfDay) int {
	return cmp.Compare(t.Seconds(), other.Seconds())
}
