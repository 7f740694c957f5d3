package featureflags

import (
	"os"
	"strings"
)

// Enabled reports whether the flag is switched on via the environment.
// A flag named "chat_ws" is read from FLAG_CHAT_WS; truthy values are
// 1/true/yes/on, anything else is off.
func Enabled(name string) bool {
	return parse(os.Getenv("FLAG_"+strings.ToUpper(name)), false)
}

// EnabledDefault is Enabled with a fallback for unset flags, so features
// can ship default-on and still be killed via env.
func EnabledDefault(name string, def bool) bool {
	v, ok := os.LookupEnv("FLAG_" + strings.ToUpper(name))
	if !ok {
		return def
	}
	return parse(v, def)
}

func parse(v string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
