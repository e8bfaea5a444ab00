// Package domain holds the entities shared by every stage of the review
// pipeline: requests, tasks, rules, and the blobs they produce.
package domain

// TaskStatus is the closed set of states a RequestRecord moves through.
// Values are persisted verbatim so the wire format matches the spec.
type TaskStatus string

const (
	StatusStart        TaskStatus = "Start"
	StatusInitializing TaskStatus = "Initializing"
	StatusProcessing   TaskStatus = "Processing"
	StatusComplete     TaskStatus = "Complete"
)

// Source identifies which source-control platform raised a request.
type Source string

const (
	SourceGitHub Source = "github"
	SourceGitLab Source = "gitlab"
)

// EventType is the normalised event kind independent of source platform.
type EventType string

const (
	EventPush  EventType = "push"
	EventMerge EventType = "merge"
)

// Mode selects how the Content Builder slices code for a rule.
type Mode string

const (
	ModeAll    Mode = "all"
	ModeSingle Mode = "single"
	ModeDiff   Mode = "diff"
)

// ZeroCommit is the 40-character all-zero SHA sentinel meaning "no prior state".
const ZeroCommit = "0000000000000000000000000000000000000000"
