package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/dvlab/dvlab-api/internal/models"
	appErrors "github.com/dvlab/dvlab-api/pkg/errors"
)

const primaryCalendar = "primary"

// EventSource lists events of the primary calendar.
type EventSource interface {
	List(ctx context.Context, q EventQuery) ([]models.CalendarEvent, error)
}

// SDKSource queries through the generated calendar/v3 client.
type SDKSource struct {
	svc *calendar.Service
}

// NewSDKSource binds the SDK to a bearer token. endpoint overrides the API base URL when set.
func NewSDKSource(ctx context.Context, httpClient *http.Client, token, endpoint string) (*SDKSource, error) {
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}
	authed := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))

	opts := []option.ClientOption{option.WithHTTPClient(authed)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &SDKSource{svc: svc}, nil
}

func (s *SDKSource) List(ctx context.Context, q EventQuery) ([]models.CalendarEvent, error) {
	call := s.svc.Events.List(primaryCalendar).
		ShowDeleted(q.ShowDeleted).
		SingleEvents(q.SingleEvents).
		OrderBy(q.OrderBy).
		MaxResults(q.MaxResults)
	if q.TimeMin != "" {
		call = call.TimeMin(q.TimeMin)
	}
	if q.TimeMax != "" {
		call = call.TimeMax(q.TimeMax)
	}
	if q.Q != "" {
		call = call.Q(q.Q)
	}

	events, err := call.Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return convertEvents(events.Items), nil
}

// RESTSource issues the list request by hand with an Authorization header.
// It serves tokens carried by the app session, bypassing the token client.
type RESTSource struct {
	httpClient *http.Client
	baseURL    string
	token      string
	apiKey     string
}

// NewRESTSource builds a source rooted at baseURL (e.g. https://www.googleapis.com/calendar/v3/).
func NewRESTSource(httpClient *http.Client, baseURL, token, apiKey string) *RESTSource {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &RESTSource{httpClient: httpClient, baseURL: baseURL, token: token, apiKey: apiKey}
}

func (s *RESTSource) List(ctx context.Context, q EventQuery) ([]models.CalendarEvent, error) {
	values := q.Values()
	if s.apiKey != "" {
		values.Set("key", s.apiKey)
	}
	endpoint := s.baseURL + "calendars/" + primaryCalendar + "/events?" + values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer googleapi.CloseBody(resp)

	if err := googleapi.CheckResponse(resp); err != nil {
		return nil, err
	}
	var payload calendar.Events
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return convertEvents(payload.Items), nil
}

// FetchEvents runs the query for r and applies the exact summary filter.
// The result is never nil on success.
func FetchEvents(ctx context.Context, src EventSource, r DateRange, summary string) ([]models.CalendarEvent, error) {
	events, err := src.List(ctx, BuildQuery(r, summary))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, appErrors.Wrap(err, appErrors.ErrCalendarFetch.Code, statusFor(err), appErrors.ErrCalendarFetch.Message)
	}
	filtered := FilterBySummary(events, summary)
	if filtered == nil {
		filtered = []models.CalendarEvent{}
	}
	return filtered, nil
}

// statusFor keeps 401 visible on the wrapped error so callers can classify it.
func statusFor(err error) int {
	if IsAuthExpired(err) {
		return http.StatusUnauthorized
	}
	return appErrors.ErrCalendarFetch.Status
}

func convertEvents(items []*calendar.Event) []models.CalendarEvent {
	out := make([]models.CalendarEvent, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, models.CalendarEvent{
			ID:       item.Id,
			Summary:  item.Summary,
			Start:    convertTime(item.Start),
			End:      convertTime(item.End),
			HTMLLink: item.HtmlLink,
		})
	}
	return out
}

func convertTime(t *calendar.EventDateTime) models.EventTime {
	if t == nil {
		return models.EventTime{}
	}
	if t.DateTime != "" {
		return models.EventTime{DateTime: t.DateTime}
	}
	return models.EventTime{Date: t.Date}
}
