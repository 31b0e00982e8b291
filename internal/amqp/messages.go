package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/alerts"
	"fintrack/internal/core"
)

// Routing keys, one per event type.
const (
	RoutingInstances = "instances.materialized"
	RoutingAlerts    = "alerts.changed"
)

// InstanceRef is the wire form of one materialized transaction.
type InstanceRef struct {
	ID             string          `json:"id"`
	ObligationID   string          `json:"obligation_id"`
	OccurrenceDate string          `json:"occurrence_date"`
	Amount         decimal.Decimal `json:"amount"`
	Kind           core.Kind       `json:"kind"`
}

// AlertRef is the wire form of one alert change. Consumers fetch the full
// alert from storage when they need title and message.
type AlertRef struct {
	ID         string         `json:"id"`
	Type       core.AlertType `json:"type"`
	SubjectKey string         `json:"subject_key"`
	Severity   core.Severity  `json:"severity"`
}

// Event is the envelope published for every routing key; exactly one of
// Instances or the alert lists is populated.
type Event struct {
	Type      string    `json:"type"`
	SubjectID string    `json:"subject_id"`
	AsOf      time.Time `json:"as_of"`
	Timestamp time.Time `json:"timestamp"`

	Instances []InstanceRef `json:"instances,omitempty"`

	Created  []AlertRef `json:"created,omitempty"`
	Updated  []AlertRef `json:"updated,omitempty"`
	Resolved []AlertRef `json:"resolved,omitempty"`
}

// NewInstancesEvent describes the instances one run materialized for a subject.
func NewInstancesEvent(subjectID string, asOf time.Time, instances []core.TransactionInstance) *Event {
	ev := &Event{Type: RoutingInstances, SubjectID: subjectID, AsOf: asOf, Timestamp: time.Now().UTC()}
	for _, in := range instances {
		ev.Instances = append(ev.Instances, InstanceRef{
			ID:             in.ID,
			ObligationID:   in.ObligationID,
			OccurrenceDate: in.OccurrenceDate.Format("2006-01-02"),
			Amount:         in.Amount,
			Kind:           in.Kind,
		})
	}
	return ev
}

// NewAlertsEvent describes one persisted evaluation diff.
func NewAlertsEvent(subjectID string, asOf time.Time, diff alerts.Diff) *Event {
	return &Event{
		Type:      RoutingAlerts,
		SubjectID: subjectID,
		AsOf:      asOf,
		Timestamp: time.Now().UTC(),
		Created:   alertRefs(diff.ToCreate),
		Updated:   alertRefs(diff.ToUpdate),
		Resolved:  alertRefs(diff.ToResolve),
	}
}

func alertRefs(list []core.Alert) []AlertRef {
	var out []AlertRef
	for _, a := range list {
		out = append(out, AlertRef{ID: a.ID, Type: a.Type, SubjectKey: a.SubjectKey, Severity: a.Severity})
	}
	return out
}

func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFromJSON decodes an event and checks it names a known routing key.
func EventFromJSON(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	switch ev.Type {
	case RoutingInstances, RoutingAlerts:
	default:
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
	if ev.SubjectID == "" {
		return nil, fmt.Errorf("event without subject")
	}
	return &ev, nil
}
