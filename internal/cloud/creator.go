package cloud

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const thingsPath = "/things/api/v1/things"

// Bundle is the PEM material issued to a new thing.
type Bundle struct {
	CA   string `json:"ca"`
	Cert string `json:"cert"`
	Key  string `json:"key"`
}

// CreatedThing is the thing manager's answer to a create request.
type CreatedThing struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	SerialNumber string    `json:"serial_number"`
	ThingType    string    `json:"thing_type"`
	Certs        Bundle    `json:"certs"`
	Created      Timestamp `json:"created"`
}

// Timestamp decodes RFC 3339 times as well as the millisecond form with a
// numeric zone the thing manager emits, e.g. 2017-10-05T12:01:02.123+0000.
type Timestamp struct {
	time.Time
}

const millisZoneLayout = "2006-01-02T15:04:05.000Z0700"

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, millisZoneLayout} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

// Creator creates things on the thing manager host.
type Creator struct {
	client *Client
}

// NewCreator creates a Creator.
func NewCreator(client *Client) *Creator {
	return &Creator{client: client}
}

// Create registers a thing and returns its cloud id and certificates.
func (c *Creator) Create(ctx context.Context, token, name, serialNumber, thingType string) (*CreatedThing, error) {
	resp, err := c.client.Post(ctx, HostThingManager, thingsPath, token, map[string]string{
		"name":          name,
		"serial_number": serialNumber,
		"thing_type":    thingType,
	})
	if err != nil {
		return nil, err
	}

	switch resp.Status {
	case http.StatusCreated:
		var created CreatedThing
		if err := decode(resp.Body, &created); err != nil {
			return nil, err
		}
		if created.ID == "" {
			return nil, fmt.Errorf("%w: missing thing id", ErrInvalidJSON)
		}
		return &created, nil
	case http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %q", ErrInvalidThingType, thingType)
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	default:
		return nil, fmt.Errorf("%w: create returned %d", ErrInvalidRequest, resp.Status)
	}
}
