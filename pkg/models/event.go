package models

import "time"

// LinkEventType names a link lifecycle change.
type LinkEventType string

const (
	LinkEventCreated LinkEventType = "link.created"
	LinkEventUpdated LinkEventType = "link.updated"
	LinkEventDeleted LinkEventType = "link.deleted"
)

// LinkEvent is published after a change set commits. Link is the new state; it is nil for
// deletions. Previous is the state before the change, when there was one.
type LinkEvent struct {
	Type       LinkEventType   `json:"type"`
	Source     RecordReference `json:"source"`
	Golden     RecordReference `json:"golden"`
	Link       *Link           `json:"link,omitempty"`
	Previous   *Link           `json:"previous,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// LinkEvents derives the events of a committed change set. before holds the source's links as
// they were when the change set was planned.
func LinkEvents(cs ChangeSet, before []Link, at time.Time) []LinkEvent {
	prior := make(map[LinkKey]Link, len(before))
	for _, l := range before {
		prior[l.Key()] = l
	}

	events := make([]LinkEvent, 0, len(cs.Deletes)+len(cs.Upserts))
	for _, key := range cs.Deletes {
		ev := LinkEvent{Type: LinkEventDeleted, Source: key.Source, Golden: key.Golden, OccurredAt: at}
		if prev, ok := prior[key]; ok {
			ev.Previous = &prev
		}
		events = append(events, ev)
	}
	for i := range cs.Upserts {
		link := cs.Upserts[i]
		ev := LinkEvent{Type: LinkEventCreated, Source: link.Source, Golden: link.Golden, Link: &link, OccurredAt: at}
		if prev, ok := prior[link.Key()]; ok {
			ev.Type = LinkEventUpdated
			ev.Previous = &prev
		}
		events = append(events, ev)
	}
	return events
}
