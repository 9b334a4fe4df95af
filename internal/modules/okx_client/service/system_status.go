package service

import (
	"context"

	"market_maker/internal/models"
)

// Maintenance returns the ongoing system maintenance events. Empty means the venue is normal.
func (c *Client) Maintenance(ctx context.Context) ([]models.MaintenanceEvent, error) {
	data, err := get[statusData](ctx, c, "/api/v5/system/status?state=ongoing", false)
	if err != nil {
		return nil, err
	}
	events := make([]models.MaintenanceEvent, 0, len(data))
	for _, d := range data {
		events = append(events, models.MaintenanceEvent{
			Title:       d.Title,
			State:       d.State,
			ServiceType: d.ServiceType,
			Begin:       parseMillis(d.Begin),
			End:         parseMillis(d.End),
		})
	}
	return events, nil
}
