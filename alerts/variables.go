package alerts

import (
	"regexp"

	"github.com/ethereum-optimism/infra/op-sanity/types"
)

// Run-level variables recognized by the dispatcher.
const (
	VarSlackAlert     = "SLACK_ALERT"
	VarAlert          = "ALERT" // deprecated alias of SLACK_ALERT
	VarSlackChannels  = "SLACK_CHANNELS"
	VarPagerDutyAlert = "PAGERDUTY_ALERT"

	alertDeprecation = "The test variable 'ALERT' is deprecated. Please use 'SLACK_ALERT' instead."
)

var channelSeparator = regexp.MustCompile(`[ ,]+`)

// ChatAlertEnabled reports whether chat alerting is on. When the deprecated
// alias is used the returned warning is non-empty; the alias is still honored.
func ChatAlertEnabled(vars types.Variables) (enabled bool, deprecation string) {
	if vars.Truthy(VarAlert) {
		deprecation = alertDeprecation
	}
	return vars.Truthy(VarSlackAlert) || vars.Truthy(VarAlert), deprecation
}

// PagingEnabled reports whether paging is on.
func PagingEnabled(vars types.Variables) bool {
	return vars.Truthy(VarPagerDutyAlert)
}

// AdditionalChannels parses the comma or whitespace separated channel list.
// Empty and duplicate entries are dropped.
func AdditionalChannels(vars types.Variables) []string {
	raw := vars[VarSlackChannels]
	if raw == "" {
		return nil
	}
	var channels []string
	seen := make(map[string]bool)
	for _, ch := range channelSeparator.Split(raw, -1) {
		if ch == "" || seen[ch] {
			continue
		}
		seen[ch] = true
		channels = append(channels, ch)
	}
	return channels
}
