package xtf

import (
	"fmt"
	"time"
)

// timeParts collects the heterogeneous timestamp fields a packet may carry.
// Different packet types expose different optional subsets, so presence is
// explicit: at most one sub-second source is ever set per packet type.
type timeParts struct {
	epochSeconds uint32
	epochMicros  uint32 // only meaningful when epochSeconds is non-zero

	year   int
	month  int
	day    int
	hour   int
	minute int
	second int

	hseconds     *uint8  // hundredths of a second, 0-99
	milliseconds *uint16
	microseconds *uint32
}

// resolveTime derives a single point in time from a packet's field set.
// A non-zero source epoch wins over the calendar fields; an epoch
// microsecond counter is terminal and is never combined with calendar
// sub-second fields. Calendar resolution handles leap years through the
// proleptic Gregorian rules of the time package.
func resolveTime(p timeParts) (time.Time, error) {
	if p.epochSeconds != 0 {
		t := time.Unix(int64(p.epochSeconds), 0).UTC()
		if p.epochMicros != 0 {
			t = t.Add(time.Duration(p.epochMicros) * time.Microsecond)
		}
		return t, nil
	}

	if p.month < 1 || p.month > 12 {
		return time.Time{}, fmt.Errorf("invalid calendar month %d", p.month)
	}
	t := time.Date(p.year, time.Month(p.month), p.day, p.hour, p.minute, p.second, 0, time.UTC)
	// time.Date normalizes out-of-range values (Feb 29 on a non-leap year
	// becomes Mar 1); reject rather than silently shift.
	if t.Year() != p.year || t.Month() != time.Month(p.month) || t.Day() != p.day {
		return time.Time{}, fmt.Errorf("invalid calendar date %04d-%02d-%02d", p.year, p.month, p.day)
	}
	if p.hour > 23 || p.minute > 59 || p.second > 59 || p.hour < 0 || p.minute < 0 || p.second < 0 {
		return time.Time{}, fmt.Errorf("invalid time of day %02d:%02d:%02d", p.hour, p.minute, p.second)
	}

	switch {
	case p.hseconds != nil:
		t = t.Add(time.Duration(*p.hseconds) * 10 * time.Millisecond)
	case p.milliseconds != nil:
		t = t.Add(time.Duration(*p.milliseconds) * time.Millisecond)
	case p.microseconds != nil:
		t = t.Add(time.Duration(*p.microseconds) * time.Microsecond)
	}
	return t, nil
}

// Time resolves the ping header's acquisition time (calendar + hundredths).
func (h *PingHeader) Time() (time.Time, error) {
	hs := h.HSeconds
	return resolveTime(timeParts{
		year: int(h.Year), month: int(h.Month), day: int(h.Day),
		hour: int(h.Hour), minute: int(h.Minute), second: int(h.Second),
		hseconds: &hs,
	})
}

// Time resolves the attitude timestamp. The epoch microsecond counter, when
// present, is the highest-precision source and returns immediately.
func (a *AttitudeData) Time() (time.Time, error) {
	ms := a.Millisecond
	return resolveTime(timeParts{
		epochSeconds: a.SourceEpoch,
		epochMicros:  a.EpochMicroseconds,
		year:         int(a.Year), month: int(a.Month), day: int(a.Day),
		hour: int(a.Hour), minute: int(a.Minute), second: int(a.Second),
		milliseconds: &ms,
	})
}

// Time resolves the note's timestamp (whole seconds only).
func (n *NotesHeader) Time() (time.Time, error) {
	return resolveTime(timeParts{
		year: int(n.Year), month: int(n.Month), day: int(n.Day),
		hour: int(n.Hour), minute: int(n.Minute), second: int(n.Second),
	})
}

// Time resolves the serial packet timestamp (calendar + hundredths).
func (h *RawSerialHeader) Time() (time.Time, error) {
	hs := h.HSeconds
	return resolveTime(timeParts{
		year: int(h.Year), month: int(h.Month), day: int(h.Day),
		hour: int(h.Hour), minute: int(h.Minute), second: int(h.Second),
		hseconds: &hs,
	})
}

// Time resolves the navigation timestamp: source epoch when stamped by the
// sensor, else calendar + microseconds.
func (n *Navigation) Time() (time.Time, error) {
	us := n.Microsecond
	return resolveTime(timeParts{
		epochSeconds: n.SourceEpoch,
		year:         int(n.Year), month: int(n.Month), day: int(n.Day),
		hour: int(n.Hour), minute: int(n.Minute), second: int(n.Second),
		microseconds: &us,
	})
}

// Time resolves the raw position fix timestamp (calendar + microseconds).
func (p *PosRawNavigation) Time() (time.Time, error) {
	us := uint32(p.Microsecond)
	return resolveTime(timeParts{
		year: int(p.Year), month: int(p.Month), day: int(p.Day),
		hour: int(p.Hour), minute: int(p.Minute), second: int(p.Second),
		microseconds: &us,
	})
}

// Time resolves the gyro timestamp: source epoch first, else calendar +
// microseconds.
func (g *Gyro) Time() (time.Time, error) {
	us := g.Microsecond
	return resolveTime(timeParts{
		epochSeconds: g.SourceEpoch,
		year:         int(g.Year), month: int(g.Month), day: int(g.Day),
		hour: int(g.Hour), minute: int(g.Minute), second: int(g.Second),
		microseconds: &us,
	})
}

// Time resolves the single-beam timestamp (calendar + milliseconds).
func (q *QPSSingleBeam) Time() (time.Time, error) {
	ms := q.Millisecond
	return resolveTime(timeParts{
		year: int(q.Year), month: int(q.Month), day: int(q.Day),
		hour: int(q.Hour), minute: int(q.Minute), second: int(q.Second),
		milliseconds: &ms,
	})
}

// Time resolves the vendor packet timestamp (calendar + milliseconds).
func (r *RawCustomHeader) Time() (time.Time, error) {
	ms := r.Millisecond
	return resolveTime(timeParts{
		year: int(r.Year), month: int(r.Month), day: int(r.Day),
		hour: int(r.Hour), minute: int(r.Minute), second: int(r.Second),
		milliseconds: &ms,
	})
}

// Time resolves the high-speed sensor timestamp (calendar + hundredths).
func (h *HighSpeedSensor) Time() (time.Time, error) {
	hs := h.HSeconds
	return resolveTime(timeParts{
		year: int(h.Year), month: int(h.Month), day: int(h.Day),
		hour: int(h.Hour), minute: int(h.Minute), second: int(h.Second),
		hseconds: &hs,
	})
}

// Time resolves the snippet ping time from its epoch fields.
func (s *SNP0) Time() time.Time {
	return time.Unix(int64(s.Seconds), int64(s.Millisec)*int64(time.Millisecond)).UTC()
}

// Time returns the record's resolved timestamp when its payload carries one.
// Unknown records and records whose calendar fields are invalid report false.
func (r *Record) Time() (time.Time, bool) {
	var (
		t   time.Time
		err error
	)
	switch {
	case r.SonarPing != nil:
		t, err = r.SonarPing.Header.Time()
	case r.BathyXYZA != nil:
		t, err = r.BathyXYZA.Header.Time()
	case r.RawBathy != nil:
		t, err = r.RawBathy.Header.Time()
	case r.Attitude != nil:
		t, err = r.Attitude.Time()
	case r.Notes != nil:
		t, err = r.Notes.Time()
	case r.RawSerial != nil:
		t, err = r.RawSerial.Header.Time()
	case r.Navigation != nil:
		t, err = r.Navigation.Time()
	case r.PosRawNavigation != nil:
		t, err = r.PosRawNavigation.Time()
	case r.Gyro != nil:
		t, err = r.Gyro.Time()
	case r.SingleBeam != nil:
		t, err = r.SingleBeam.Time()
	case r.RawCustom != nil:
		t, err = r.RawCustom.Time()
	case r.HighSpeedSensor != nil:
		t, err = r.HighSpeedSensor.Time()
	default:
		return time.Time{}, false
	}
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
