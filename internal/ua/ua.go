// internal/ua/ua.go
//
// User-Agent classification for redirect metrics and the WeChat landing
// page.
//
// This wrapper isolates the third-party `github.com/avct/uasurfer` API so
// the rest of the codebase never sees its enums or structs.
package ua

import (
	"strings"

	surfer "github.com/avct/uasurfer"
)

// Device classes used as the `device` label on redirect metrics.
const (
	Desktop = "desktop"
	Mobile  = "mobile"
	Tablet  = "tablet"
	Bot     = "bot"
	Other   = "other"
)

// Info carries the UA attributes the HTTP layer cares about.
type Info struct {
	Browser string
	OS      string
	Device  string // one of the class constants above
	WeChat  bool   // in-app browser of WeChat
}

// Parse converts a raw header into an Info struct.
func Parse(raw string) Info {
	u := surfer.Parse(raw)

	info := Info{
		Browser: u.Browser.Name.String(),
		OS:      u.OS.Name.String(),
		WeChat:  strings.Contains(raw, "MicroMessenger"),
	}

	switch {
	case u.IsBot():
		info.Device = Bot
	case u.DeviceType == surfer.DeviceComputer:
		info.Device = Desktop
	case u.DeviceType == surfer.DeviceTablet:
		info.Device = Tablet
	case u.DeviceType == surfer.DevicePhone, u.DeviceType == surfer.DeviceWearable:
		info.Device = Mobile
	default:
		info.Device = Other
	}
	return info
}
