package sftpxfer

import "time"

// FileType is the kind of a directory entry.
type FileType uint8

const (
	Regular FileType = iota
	Directory
)

func (t FileType) String() string {
	if t == Directory {
		return "directory"
	}
	return "regular"
}

// FileMetadata describes one remote directory entry. The times are nil when
// the server did not report them; Size is always set since the SFTP client
// cannot tell an omitted size from zero.
type FileMetadata struct {
	Path         string
	Size         *uint64
	Type         FileType
	LastAccessed *time.Time
	LastModified *time.Time
}

// Progress describes how far a transfer has come.
type Progress struct {
	Source          string
	Dest            string
	TotalBytes      uint64
	PercentComplete float64
}

// Result is the outcome of a transfer. It is one of Completed, Cancelled
// or InProgress; consumers are expected to switch over all three.
type Result interface {
	result()
}

// Completed is the terminal success result.
type Completed struct {
	Progress Progress
}

// Cancelled is the terminal result of a transfer stopped by its context.
type Cancelled struct {
	Source string
	Dest   string
}

// InProgress is reported to a ProgressFunc while a transfer runs.
type InProgress struct {
	Progress Progress
}

func (Completed) result()  {}
func (Cancelled) result()  {}
func (InProgress) result() {}

// ProgressFunc receives progress of a running transfer. It is called from
// the goroutine writing the destination and must not block for long.
type ProgressFunc func(InProgress)
