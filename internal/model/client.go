package model

import (
	"fmt"
	"strings"
)

// Client is the platform a customer logged in from.
type Client string

const (
	ClientWeb     Client = "WEB"
	ClientAndroid Client = "ANDROID"
	ClientIOS     Client = "IOS"
)

func (c Client) String() string {
	return string(c)
}

func (c Client) Valid() bool {
	return c == ClientWeb || c == ClientAndroid || c == ClientIOS
}

// Wire returns the lowercase form used in events ("web", "android", "ios").
func (c Client) Wire() string {
	return strings.ToLower(string(c))
}

// ParseClient maps a raw event value onto a Client. Matching is
// case-insensitive; anything else is an error the caller must handle
// (the consumer routes such messages to the dead-letter topic).
func ParseClient(raw string) (Client, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "WEB":
		return ClientWeb, nil
	case "ANDROID":
		return ClientAndroid, nil
	case "IOS":
		return ClientIOS, nil
	case "":
		return "", fmt.Errorf("client is empty")
	default:
		return "", fmt.Errorf("unsupported client: %q", raw)
	}
}
