package common

const (
	ComponentIntake      = "intake"
	ComponentStaging     = "staging"
	ComponentCommitSink  = "commit-sink"
	ComponentBroadcaster = "broadcaster"
	ComponentPipeline    = "pipeline"
	ComponentStore       = "store"
	ComponentAPI         = "api"
	ComponentFeed        = "feed"
)

var AllComponents = map[string]struct{}{
	ComponentIntake:      {},
	ComponentStaging:     {},
	ComponentCommitSink:  {},
	ComponentBroadcaster: {},
	ComponentPipeline:    {},
	ComponentStore:       {},
	ComponentAPI:         {},
	ComponentFeed:        {},
}
