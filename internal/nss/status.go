package nss

import "syscall"

// Status is the outcome of a lookup, numbered like nss_status.
type Status int

const (
	// StatusTryAgain means the caller buffer was too small; errno is ERANGE.
	StatusTryAgain    Status = -1
	StatusSuccess     Status = 0
	StatusNotFound    Status = 1
	StatusUnavailable Status = 2
	StatusError       Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusTryAgain:
		return "tryagain"
	case StatusSuccess:
		return "success"
	case StatusNotFound:
		return "notfound"
	case StatusUnavailable:
		return "unavailable"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// Errno is the errno value that accompanies s.
func (s Status) Errno() syscall.Errno {
	switch s {
	case StatusTryAgain:
		return syscall.ERANGE
	case StatusUnavailable:
		return syscall.ENOENT
	case StatusError:
		return syscall.EIO
	}
	return 0
}
