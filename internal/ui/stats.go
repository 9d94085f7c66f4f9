package ui

import "sync/atomic"

type Stats struct {
	TotalImages  atomic.Int64
	FailedImages atomic.Int64
	TotalFiles   atomic.Int64
	TotalBytes   atomic.Int64
}
