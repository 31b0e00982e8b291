package alerts

import (
	"errors"
	"fmt"
	"sort"

	"fintrack/internal/core"
)

var ErrAlertNotFound = errors.New("alert not found")

// MarkAsRead returns the alert with the given ID marked read. changed is
// false when it already was.
func MarkAsRead(list []core.Alert, id string) (a core.Alert, changed bool, err error) {
	a, err = find(list, id)
	if err != nil {
		return core.Alert{}, false, err
	}
	changed = a.MarkRead()
	return a, changed, nil
}

// MarkAllAsRead returns every unread, non-archived alert marked read.
func MarkAllAsRead(list []core.Alert) []core.Alert {
	var out []core.Alert
	for _, a := range list {
		if a.IsArchived {
			continue
		}
		if a.MarkRead() {
			out = append(out, a)
		}
	}
	return out
}

// Archive returns the alert with the given ID archived. changed is false
// when it already was.
func Archive(list []core.Alert, id string) (a core.Alert, changed bool, err error) {
	a, err = find(list, id)
	if err != nil {
		return core.Alert{}, false, err
	}
	changed = a.Archive()
	return a, changed, nil
}

// Active returns the non-archived alerts, newest first.
func Active(list []core.Alert) []core.Alert {
	out := make([]core.Alert, 0, len(list))
	for _, a := range list {
		if a.IsOpen() {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// UnreadCount counts non-archived unread alerts.
func UnreadCount(list []core.Alert) int {
	n := 0
	for _, a := range list {
		if a.IsOpen() && !a.IsRead {
			n++
		}
	}
	return n
}

func find(list []core.Alert, id string) (core.Alert, error) {
	for _, a := range list {
		if a.ID == id {
			return a, nil
		}
	}
	return core.Alert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
}
