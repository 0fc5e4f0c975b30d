package fleet

import "strings"

// DeviceTypeUnassigned: тип устройства до одобрения оператором.
const DeviceTypeUnassigned = "unassigned"

// legacyUnassigned принимается от старых агентов и приводится к unassigned.
const legacyUnassigned = "unknown"

// Template describes the capability set of a device type.
type Template struct {
	DeviceType  string          `json:"device_type"`
	Label       string          `json:"label"`
	Description string          `json:"description"`
	Features    map[string]bool `json:"features"`
}

var catalog = []Template{
	{
		DeviceType:  "router",
		Label:       "Router",
		Description: "WAN router/firewall device with DHCP/NAT; no WiFi controls.",
		Features:    map[string]bool{"wifi": false, "firewall": true, "dhcp": true, "switch": true, "vpn": true},
	},
	{
		DeviceType:  "access_point",
		Label:       "Access Point",
		Description: "Wireless access point focused on SSID/channel/roaming settings.",
		Features:    map[string]bool{"wifi": true, "firewall": false, "dhcp": false, "switch": false, "roaming": true},
	},
	{
		DeviceType:  "switch",
		Label:       "Network Switch",
		Description: "Layer-2 switch (optionally PoE) without WiFi or NAT.",
		Features:    map[string]bool{"wifi": false, "firewall": false, "dhcp": false, "switch": true, "poe": true},
	},
	{
		DeviceType:  "firewall",
		Label:       "Firewall Appliance",
		Description: "Dedicated firewall appliance with deep packet control.",
		Features:    map[string]bool{"wifi": false, "firewall": true, "dhcp": false, "ids": true, "vpn": true},
	},
}

// Templates returns a copy of the catalog.
func Templates() []Template {
	out := make([]Template, 0, len(catalog))
	for _, t := range catalog {
		out = append(out, t.clone())
	}
	return out
}

// LookupTemplate returns the catalog entry for deviceType.
func LookupTemplate(deviceType string) (Template, bool) {
	for _, t := range catalog {
		if t.DeviceType == deviceType {
			return t.clone(), true
		}
	}
	return Template{}, false
}

// IsTemplateType reports whether deviceType is a catalog entry (never unassigned).
func IsTemplateType(deviceType string) bool {
	_, ok := LookupTemplate(deviceType)
	return ok
}

// NormalizeDeviceType trims the value and folds the legacy "unknown" into
// unassigned. ok is false for values outside catalog + unassigned.
func NormalizeDeviceType(v string) (string, bool) {
	s := strings.TrimSpace(v)
	if s == legacyUnassigned {
		s = DeviceTypeUnassigned
	}
	if s == DeviceTypeUnassigned || IsTemplateType(s) {
		return s, true
	}
	return s, false
}

func (t Template) clone() Template {
	f := make(map[string]bool, len(t.Features))
	for k, v := range t.Features {
		f[k] = v
	}
	t.Features = f
	return t
}
