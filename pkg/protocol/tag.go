package protocol

import (
	"fmt"
)

// Tag identifies a request. The reply to a request carries the request tag
// plus one.
type Tag int32

const firstTag Tag = 0x5700

const (
	TagAttach Tag = firstTag + 2*iota
	TagPause
	TagResume
	TagSampleTraces
	TagSendLastTrace
	TagSendTraces
	TagSendNodeInEdge
	TagDetach
	TagTerminate
	TagCheckVersion
	TagExit
)

var tagNames = map[Tag]string{
	TagAttach:         "ATTACH",
	TagPause:          "PAUSE",
	TagResume:         "RESUME",
	TagSampleTraces:   "SAMPLE_TRACES",
	TagSendLastTrace:  "SEND_LAST_TRACE",
	TagSendTraces:     "SEND_TRACES",
	TagSendNodeInEdge: "SEND_NODE_IN_EDGE",
	TagDetach:         "DETACH",
	TagTerminate:      "TERMINATE",
	TagCheckVersion:   "CHECK_VERSION",
	TagExit:           "EXIT",
}

func (t Tag) Reply() Tag {
	return t + 1
}

// IsReply reports whether t is the reply tag of a known request.
func (t Tag) IsReply() bool {
	_, ok := tagNames[t-1]
	return ok
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	if name, ok := tagNames[t-1]; ok {
		return name + "_REPLY"
	}
	return fmt.Sprintf("TAG(%d)", int32(t))
}

// Status is the outcome carried by an ack.
type Status int32

const (
	StatusOK              Status = 0
	StatusFailure         Status = 1
	StatusVersionMismatch Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFailure:
		return "failure"
	case StatusVersionMismatch:
		return "version mismatch"
	}
	return fmt.Sprintf("status(%d)", int32(s))
}
