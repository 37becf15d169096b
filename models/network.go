package models

import "time"

// Fixed push topics
const (
	MorningFedTopic = "dog/fed/morning"
	EveningFedTopic = "dog/fed/evening"
)

// FeedingTopics lists the push topics in subscription order
var FeedingTopics = []string{MorningFedTopic, EveningFedTopic}

// TopicWindow maps a push topic to its window
func TopicWindow(topic string) (WindowName, bool) {
	switch topic {
	case MorningFedTopic:
		return Morning, true
	case EveningFedTopic:
		return Evening, true
	default:
		return "", false
	}
}

// PushTrigger is a received push message. The payload is never parsed.
type PushTrigger struct {
	Topic      string
	ReceivedAt time.Time
}

// OutcomeKind tags a NetworkOutcome
type OutcomeKind string

const (
	OutcomeStatusFetched OutcomeKind = "status_fetched"
	OutcomePushReceived  OutcomeKind = "push_received"
	OutcomeTimeout       OutcomeKind = "timeout"
	OutcomeLinkFailure   OutcomeKind = "link_failure"
)

// NetworkOutcome is the result of one poll cycle
type NetworkOutcome struct {
	Kind    OutcomeKind
	Payload *StatusPayload
	Topic   string
	Reason  error
}

func StatusFetched(p StatusPayload) NetworkOutcome {
	return NetworkOutcome{Kind: OutcomeStatusFetched, Payload: &p}
}

func PushReceived(topic string) NetworkOutcome {
	return NetworkOutcome{Kind: OutcomePushReceived, Topic: topic}
}

func Timeout() NetworkOutcome {
	return NetworkOutcome{Kind: OutcomeTimeout}
}

func LinkFailure(reason error) NetworkOutcome {
	return NetworkOutcome{Kind: OutcomeLinkFailure, Reason: reason}
}
