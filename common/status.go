package common

//go:generate go run github.com/dmarkham/enumer -json -sql -type Status -trimprefix Status

// Status of the download of a band file
type Status int

const (
	StatusNEW Status = iota
	StatusPENDING
	StatusDONE
	StatusFAILED
	StatusRETRY
)
