package settings

import "fmt"

const CmdName = "xstat"

var (
	PidFile             = fmt.Sprintf("/tmp/%s.pid", CmdName)
	LogFile             = fmt.Sprintf("/tmp/%s.log", CmdName)
	SocketPath          = fmt.Sprintf("/tmp/%s.sock", CmdName)
	HealthCheckSockPath = fmt.Sprintf("/tmp/%s-ready.sock", CmdName)
)

const (
	// DefaultThreadWidth is the thread bit vector width used when a
	// sample request does not carry one.
	DefaultThreadWidth = 512

	// DefaultFilePrefix names the files written to the output directory.
	DefaultFilePrefix = CmdName
)
