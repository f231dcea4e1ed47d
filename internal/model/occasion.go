package model

import (
	"fmt"
	"time"
)

// Occasion 一天中固定的提醒时段，外加每周回顾
type Occasion int

const (
	OccasionMorning Occasion = iota
	OccasionNoon
	OccasionEvening
	OccasionNight
	OccasionWeeklyReview
)

// PerOccasion 每个时段一个值。字段不导出，只能通过 NewPerOccasion 按位置构造，
// 新增时段时所有构造点都会编译失败。
type PerOccasion[T any] struct {
	morning      T
	noon         T
	evening      T
	night        T
	weeklyReview T
}

func NewPerOccasion[T any](morning, noon, evening, night, weeklyReview T) PerOccasion[T] {
	return PerOccasion[T]{
		morning:      morning,
		noon:         noon,
		evening:      evening,
		night:        night,
		weeklyReview: weeklyReview,
	}
}

func (p PerOccasion[T]) Get(o Occasion) T {
	switch o {
	case OccasionMorning:
		return p.morning
	case OccasionNoon:
		return p.noon
	case OccasionEvening:
		return p.evening
	case OccasionNight:
		return p.night
	case OccasionWeeklyReview:
		return p.weeklyReview
	}
	panic(fmt.Sprintf("model: unknown occasion %d", int(o)))
}

var occasionIDs = NewPerOccasion("morning", "noon", "evening", "night", "weekly-review")

// AllOccasions 按一天中的先后顺序
func AllOccasions() []Occasion {
	return []Occasion{OccasionMorning, OccasionNoon, OccasionEvening, OccasionNight, OccasionWeeklyReview}
}

func (o Occasion) Valid() bool {
	return o >= OccasionMorning && o <= OccasionWeeklyReview
}

func (o Occasion) String() string {
	if !o.Valid() {
		return fmt.Sprintf("occasion(%d)", int(o))
	}
	return occasionIDs.Get(o)
}

// Tag 通知的稳定标签，同标签的新通知会替换未关闭的旧通知
func (o Occasion) Tag() string {
	return "reminder-" + o.String()
}

func ParseOccasion(s string) (Occasion, error) {
	for _, o := range AllOccasions() {
		if occasionIDs.Get(o) == s {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown occasion %q", s)
}

func (o Occasion) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("unknown occasion %d", int(o))
	}
	return []byte(o.String()), nil
}

func (o *Occasion) UnmarshalText(b []byte) error {
	parsed, err := ParseOccasion(string(b))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// OccasionAt 根据本地时间推断服务端派发的时段
func OccasionAt(local time.Time) Occasion {
	switch h := local.Hour(); {
	case h < 11:
		return OccasionMorning
	case h < 16:
		return OccasionNoon
	case h < 20:
		return OccasionEvening
	default:
		return OccasionNight
	}
}
