package tgui

import "strings"

// Data formats inline callback data as "section:action" or
// "section:action:payload". Payload is kept as-is (no escaping).
func Data(section, action, payload string) string {
	section = strings.TrimSpace(section)
	action = strings.TrimSpace(action)
	if payload == "" {
		return section + ":" + action
	}
	return section + ":" + action + ":" + payload
}

// SplitData is the inverse of Data. Payload may itself contain colons.
func SplitData(data string) (section, action, payload string) {
	parts := strings.SplitN(data, ":", 3)
	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2]
	case 2:
		return parts[0], parts[1], ""
	case 1:
		return parts[0], "", ""
	default:
		return "", "", ""
	}
}
