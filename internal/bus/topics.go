package bus

import "fmt"

// Topic patterns for run lifecycle events.

func TopicRunEvents(runID string) string {
	return fmt.Sprintf("events.run.%s", runID)
}

const (
	TopicEventsAll = "events.>"
	TopicEventsRun = "events.run.*"
)
