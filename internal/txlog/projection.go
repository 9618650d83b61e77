package txlog

// Latest returns the most recent event recorded for stage
func Latest(events []Event, stage Stage) (Event, bool) {
	var (
		found bool
		best  Event
	)
	for _, e := range events {
		if e.Stage != stage {
			continue
		}
		if !found || newer(e, best) {
			best = e
			found = true
		}
	}
	return best, found
}

func newer(a, b Event) bool {
	if a.Timestamp.Equal(b.Timestamp) {
		return a.ID > b.ID
	}
	return a.Timestamp.After(b.Timestamp)
}
