package common

// Log fields
const (
	TagRun       = "run"
	TagBand      = "band"
	TagEntityID  = "entityId"
	TagDisplayID = "displayId"
	TagProvider  = "provider"
	TagDataset   = "dataset"
	TagFile      = "file"
	TagOperation = "operation"
)
