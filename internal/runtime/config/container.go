package config

import (
	"os"
	"strconv"
	"sync"
)

// ContainerEnvVar tells the worker it runs inside a container.
const ContainerEnvVar = "RUNNING_IN_CONTAINER"

var runningInContainer = sync.OnceValue(func() bool {
	return parseContainerFlag(os.Getenv(ContainerEnvVar))
})

// RunningInContainer reports the container flag. The variable is read once
// per process; unset or unparsable values mean false.
func RunningInContainer() bool {
	return runningInContainer()
}

func parseContainerFlag(raw string) bool {
	v, err := strconv.ParseBool(raw)
	return err == nil && v
}
