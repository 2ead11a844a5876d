package mqtt

import (
	"fmt"
	"strings"
)

// Topic wildcards defined by MQTT 3.1.1.
const (
	wildcardSingle = "+"
	wildcardMulti  = "#"
	levelSeparator = "/"
)

// ValidatePublishTopic rejects empty topics and topics containing wildcards.
func ValidatePublishTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, wildcardSingle+wildcardMulti) {
		return fmt.Errorf("%w: wildcards are not allowed when publishing (%s)", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateFilter checks wildcard placement in a subscription filter:
// '+' must occupy a whole level and '#' must be the last level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	levels := strings.Split(filter, levelSeparator)
	for i, level := range levels {
		switch {
		case level == wildcardMulti && i != len(levels)-1:
			return fmt.Errorf("%w: '#' must be the last level (%s)", ErrInvalidTopic, filter)
		case level != wildcardSingle && level != wildcardMulti && strings.ContainsAny(level, wildcardSingle+wildcardMulti):
			return fmt.Errorf("%w: wildcard must occupy a whole level (%s)", ErrInvalidTopic, filter)
		}
	}
	return nil
}

// MatchTopic reports whether topic matches the subscription filter.
//
//	MatchTopic("a/get/+", "a/get/ping")                  // true
//	MatchTopic("a/get/+", "a/get/rest/oauth2/login")     // false
//	MatchTopic("a/get/rest/#", "a/get/rest/oauth2/login") // true
func MatchTopic(filter, topic string) bool {
	fl := strings.Split(filter, levelSeparator)
	tl := strings.Split(topic, levelSeparator)

	for i, f := range fl {
		if f == wildcardMulti {
			// "a/#" also matches "a" itself.
			return true
		}
		if i >= len(tl) {
			return false
		}
		if f != wildcardSingle && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
