package google

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/user/deskmate/internal/adapters"
)

const (
	opCreateEvent = "calendar.insert"
	opListEvents  = "calendar.list"
	dateLayout    = "2006-01-02"
)

type Calendar struct {
	api        *client
	calendarID string
	timeZone   string
}

var _ adapters.Calendar = (*Calendar)(nil)

func NewCalendar(cfg Config) *Calendar {
	cfg = cfg.withDefaults()
	return &Calendar{
		api: &client{
			base:       cfg.CalendarURL,
			token:      cfg.AccessToken,
			httpClient: cfg.HTTPClient,
			retry:      cfg.Retry,
		},
		calendarID: cfg.CalendarID,
		timeZone:   cfg.TimeZone,
	}
}

type eventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type attendee struct {
	Email string `json:"email"`
}

type calendarEvent struct {
	ID        string     `json:"id,omitempty"`
	Summary   string     `json:"summary"`
	HTMLLink  string     `json:"htmlLink,omitempty"`
	Start     eventTime  `json:"start"`
	End       eventTime  `json:"end"`
	Attendees []attendee `json:"attendees,omitempty"`
}

type eventList struct {
	Items []calendarEvent `json:"items"`
}

func (c *Calendar) eventsPath() string {
	return "/calendars/" + url.PathEscape(c.calendarID) + "/events"
}

func (c *Calendar) CreateEvent(ctx context.Context, ev adapters.NewEvent) (adapters.EventRef, error) {
	if ev.Title == "" || ev.Start.IsZero() {
		return adapters.EventRef{}, adapters.NewError(adapters.KindValidation, opCreateEvent, "an event needs a title and a start time", nil)
	}
	end := ev.Start.Add(ev.Duration)
	if ev.Duration <= 0 {
		end = ev.Start.Add(time.Hour)
	}

	body := calendarEvent{
		Summary: ev.Title,
		Start:   eventTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: c.timeZone},
		End:     eventTime{DateTime: end.Format(time.RFC3339), TimeZone: c.timeZone},
	}
	query := url.Values{}
	for _, email := range ev.Attendees {
		body.Attendees = append(body.Attendees, attendee{Email: email})
	}
	if len(body.Attendees) > 0 {
		query.Set("sendUpdates", "all")
	}

	var created calendarEvent
	if err := c.api.do(ctx, opCreateEvent, http.MethodPost, c.eventsPath(), query, body, &created); err != nil {
		return adapters.EventRef{}, err
	}
	ref := toRef(created, ev.Start.Location())
	if ref.Title == "" {
		ref.Title = ev.Title
	}
	if ref.Start.IsZero() {
		ref.Start, ref.End = ev.Start, end
	}
	return ref, nil
}

func (c *Calendar) ListEvents(ctx context.Context, r adapters.Range) ([]adapters.EventRef, error) {
	query := url.Values{}
	query.Set("singleEvents", "true")
	query.Set("orderBy", "startTime")
	if !r.From.IsZero() {
		query.Set("timeMin", r.From.Format(time.RFC3339))
	}
	if !r.To.IsZero() {
		query.Set("timeMax", r.To.Format(time.RFC3339))
	}
	if r.Max > 0 {
		query.Set("maxResults", strconv.Itoa(r.Max))
	}

	var list eventList
	if err := c.api.do(ctx, opListEvents, http.MethodGet, c.eventsPath(), query, nil, &list); err != nil {
		return nil, err
	}

	loc := r.From.Location()
	out := make([]adapters.EventRef, 0, len(list.Items))
	for _, item := range list.Items {
		out = append(out, toRef(item, loc))
	}
	return out, nil
}

func toRef(ev calendarEvent, loc *time.Location) adapters.EventRef {
	ref := adapters.EventRef{
		ID:    ev.ID,
		Title: ev.Summary,
		Start: parseEventTime(ev.Start, loc),
		End:   parseEventTime(ev.End, loc),
		Link:  ev.HTMLLink,
	}
	for _, a := range ev.Attendees {
		ref.Attendees = append(ref.Attendees, a.Email)
	}
	return ref
}

// parseEventTime reads a timed or all-day boundary. All-day dates are
// placed at midnight in loc.
func parseEventTime(t eventTime, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	if t.DateTime != "" {
		if parsed, err := time.Parse(time.RFC3339, t.DateTime); err == nil {
			return parsed.In(loc)
		}
	}
	if t.Date != "" {
		if parsed, err := time.ParseInLocation(dateLayout, t.Date, loc); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
