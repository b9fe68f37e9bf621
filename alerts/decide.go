package alerts

import (
	"github.com/ethereum-optimism/infra/op-sanity/types"
)

// Action is the alerting outcome for one test file.
type Action string

const (
	// ActionRaise sends a chat message and/or raises a page.
	ActionRaise Action = "raise"
	// ActionSuppress means the run failed but no alert channel is enabled.
	ActionSuppress Action = "suppress"
	// ActionResolve resolves any open page of the file.
	ActionResolve Action = "resolve"
	// ActionNone means the run passed and paging is off.
	ActionNone Action = "none"
)

// Decision is the alerting outcome of one test file.
type Decision struct {
	File     string
	Action   Action
	Chat     bool
	Page     bool
	Message  string
	Channels []string
	PageKey  string
	Metadata types.TestMetadata
}

// Routing carries the run-independent alert destinations.
type Routing struct {
	DefaultChannel string
	PageKeyPrefix  string
}

// Decide computes exactly one decision per declared test file, in the
// canonical file order. Chat alerts are gated on a failure anywhere in the
// run, not on the file's own result. Any deprecation warnings are returned
// alongside the decisions.
func Decide(cfg types.RunConfiguration, agg *types.AggregateRunResult, routing Routing) ([]Decision, []string, error) {
	vars := cfg.Variables
	chat, deprecation := ChatAlertEnabled(vars)
	page := PagingEnabled(vars)
	runFailed := agg.HasFailures()

	var warnings []string
	if deprecation != "" {
		warnings = append(warnings, deprecation)
	}
	channels := channelsFor(routing.DefaultChannel, AdditionalChannels(vars))

	names := cfg.FileNames()
	decisions := make([]Decision, 0, len(names))
	for _, name := range names {
		md := ParseMetadata(cfg.TestFiles[name])
		d := Decision{
			File:     name,
			PageKey:  PageKey(routing.PageKeyPrefix, name),
			Metadata: md,
		}
		switch {
		case runFailed && (chat || page):
			d.Action = ActionRaise
			d.Chat = chat
			d.Page = page
		case runFailed:
			d.Action = ActionSuppress
		case page:
			d.Action = ActionResolve
			d.Page = true
		default:
			d.Action = ActionNone
		}
		if d.Chat {
			d.Channels = channels
		}
		if d.Action == ActionRaise {
			var file *types.FileResult
			if agg.Result != nil {
				file = agg.Result.File(name)
			}
			msg, err := RenderMessage(NewMessageData(name, agg, file, md))
			if err != nil {
				return nil, warnings, err
			}
			d.Message = msg
		}
		decisions = append(decisions, d)
	}
	return decisions, warnings, nil
}

// PageKey is the deduplication key of a file's page. It is stable across runs
// so a later passing run resolves the page an earlier run raised.
func PageKey(prefix string, file string) string {
	if prefix == "" {
		prefix = DefaultPageKeyPrefix
	}
	return prefix + "/" + file
}

func channelsFor(defaultChannel string, additional []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, ch := range append([]string{defaultChannel}, additional...) {
		if ch == "" || seen[ch] {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	return out
}
