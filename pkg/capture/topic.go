package capture

import (
	"fmt"
	"strings"
)

// parseTopic extracts the channel and gateway identifiers from a bus topic.
// By convention the last two segments are channel and gateway:
// {prefix}/.../{channel}/{gateway}.
func parseTopic(topic string) (channel, gateway string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}

	channel = parts[len(parts)-2]
	gateway = parts[len(parts)-1]

	if channel == "" || gateway == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}

	return channel, gateway, nil
}
