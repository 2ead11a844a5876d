package mqtt

import (
	"errors"
	"testing"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"d/get/+", "d/get/ping", true},
		{"d/get/+", "d/get/rest/oauth2/login", false},
		{"d/get/rest/#", "d/get/rest/oauth2/login", true},
		{"d/get/rest/#", "d/get/rest", true},
		{"d/get/rest/#", "d/get/ping", false},
		{"d/get/ping", "d/get/ping", true},
		{"d/get/ping", "d/set/ping", false},
		{"#", "anything/at/all", true},
		{"d/+/ping", "d/get/ping", true},
		{"d/get/+", "d/get", false},
	}

	for _, tt := range tests {
		if got := MatchTopic(tt.filter, tt.topic); got != tt.want {
			t.Errorf("MatchTopic(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}

func TestValidateFilter(t *testing.T) {
	valid := []string{"a/b", "a/+", "a/+/c", "a/#", "#", "+"}
	for _, f := range valid {
		if err := ValidateFilter(f); err != nil {
			t.Errorf("ValidateFilter(%q) error = %v", f, err)
		}
	}

	invalid := []string{"", "a/#/c", "a/b+", "a/#b"}
	for _, f := range invalid {
		if err := ValidateFilter(f); !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("ValidateFilter(%q) error = %v, want ErrInvalidTopic", f, err)
		}
	}
}

func TestValidatePublishTopic(t *testing.T) {
	if err := ValidatePublishTopic("a/set/pong"); err != nil {
		t.Errorf("ValidatePublishTopic() error = %v", err)
	}
	for _, topic := range []string{"", "a/+", "a/#"} {
		if err := ValidatePublishTopic(topic); !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("ValidatePublishTopic(%q) error = %v, want ErrInvalidTopic", topic, err)
		}
	}
}
