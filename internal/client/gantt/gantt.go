// Package gantt maps milestone due dates onto a horizontal track and back, so
// a milestone dropped at an offset can be rescheduled to the matching day.
package gantt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"archboard/api/internal/client/api"
)

const DateLayout = "2006-01-02"

const day = 24 * time.Hour

var ErrNoDates = errors.New("gantt: no milestone has a due date")

// Scale spans the earliest to the latest due date across width units.
type Scale struct {
	Start time.Time
	End   time.Time
	Width float64
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("gantt: parse date %q: %w", s, err)
	}
	return t, nil
}

// NewScale builds a scale over the milestones' due dates. Milestones with a
// missing or malformed due date are ignored.
func NewScale(milestones []api.Milestone, width float64) (Scale, error) {
	var start, end time.Time
	found := false
	for _, m := range milestones {
		t, err := ParseDate(m.DueDate)
		if err != nil {
			continue
		}
		if !found || t.Before(start) {
			start = t
		}
		if !found || t.After(end) {
			end = t
		}
		found = true
	}
	if !found {
		return Scale{}, ErrNoDates
	}
	if width < 0 {
		width = 0
	}
	return Scale{Start: start, End: end, Width: width}, nil
}

func (s Scale) days() float64 {
	return math.Round(float64(s.End.Sub(s.Start)) / float64(day))
}

// DayWidth is the track width covered by one day, zero for single-date spans.
func (s Scale) DayWidth() float64 {
	d := s.days()
	if d <= 0 {
		return 0
	}
	return s.Width / d
}

// Position interpolates t into [0, Width]. Dates outside the span clamp to
// the edges and a single-date span maps everything to 0.
func (s Scale) Position(t time.Time) float64 {
	total := s.days()
	if total <= 0 {
		return 0
	}
	frac := float64(t.Sub(s.Start)) / float64(day) / total
	frac = math.Max(0, math.Min(1, frac))
	return frac * s.Width
}

// DateAt is the inverse of Position, rounded to the nearest day and clamped
// to the span.
func (s Scale) DateAt(offset float64) time.Time {
	total := s.days()
	if total <= 0 || s.Width <= 0 {
		return s.Start
	}
	offset = math.Max(0, math.Min(s.Width, offset))
	n := math.Round(offset / s.Width * total)
	return s.Start.AddDate(0, 0, int(n))
}

// Rescheduler is the mutation a drop issues.
type Rescheduler interface {
	Reschedule(ctx context.Context, projectID, milestoneID, dueDate string) (string, error)
}

// Reschedule moves m to the day under droppedOffset. It returns the new due
// date and the status the backend reports. A drop on the current day issues
// no request.
func Reschedule(ctx context.Context, r Rescheduler, s Scale, m api.Milestone, droppedOffset float64) (string, string, error) {
	due := s.DateAt(droppedOffset).Format(DateLayout)
	if due == m.DueDate {
		return due, m.Status, nil
	}
	status, err := r.Reschedule(ctx, m.ProjectID, m.ID, due)
	if err != nil {
		return "", "", fmt.Errorf("reschedule %s to %s: %w", m.ID, due, err)
	}
	return due, status, nil
}

// Bar is one milestone placed on a track of integer columns.
type Bar struct {
	Milestone api.Milestone
	Column    int
}

// Layout places milestones with a parseable due date on a track of cols
// columns, ordered by date and then name.
func Layout(milestones []api.Milestone, cols int) ([]Bar, Scale, error) {
	if cols < 1 {
		cols = 1
	}
	s, err := NewScale(milestones, float64(cols-1))
	if err != nil {
		return nil, Scale{}, err
	}
	bars := make([]Bar, 0, len(milestones))
	for _, m := range milestones {
		t, err := ParseDate(m.DueDate)
		if err != nil {
			continue
		}
		bars = append(bars, Bar{Milestone: m, Column: int(math.Round(s.Position(t)))})
	}
	sort.SliceStable(bars, func(i, j int) bool {
		if bars[i].Milestone.DueDate != bars[j].Milestone.DueDate {
			return bars[i].Milestone.DueDate < bars[j].Milestone.DueDate
		}
		return bars[i].Milestone.Name < bars[j].Milestone.Name
	})
	return bars, s, nil
}
