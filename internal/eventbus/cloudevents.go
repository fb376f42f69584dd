package eventbus

import (
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// eventTypePrefix follows reverse domain notation for exported events.
const eventTypePrefix = "com.gocodealone.repost."

// CloudEvent converts a remembered emission into a CloudEvent for the
// admin event feed.
func (r Record) CloudEvent() cloudevents.Event {
	e := cloudevents.NewEvent()
	e.SetID(r.ID)
	e.SetType(eventTypePrefix + r.Topic)
	e.SetSource("repost/eventbus")
	e.SetTime(r.At)
	if err := e.SetData(cloudevents.ApplicationJSON, r.Payload); err != nil {
		// Payloads that cannot marshal still export their envelope.
		e.SetDataContentType(cloudevents.ApplicationJSON)
	}
	return e
}

// RecentCloudEvents exports the most recent emissions as CloudEvents.
func (b *Bus) RecentCloudEvents(limit int) []cloudevents.Event {
	records := b.RecentRecords(limit)
	events := make([]cloudevents.Event, 0, len(records))
	for _, r := range records {
		events = append(events, r.CloudEvent())
	}
	return events
}
