package internal

import (
	"os"
	"os/exec"
)

// UnbreakDocker joins the current container to the default bridge network so
// that tests running inside a dev container can reach testcontainers started
// on the host's Docker daemon. Outside of a container this is a no-op
// (the docker command fails and the error is ignored).
func UnbreakDocker() {
	if hostname, err := os.Hostname(); err == nil {
		exec.Command("docker", "network", "connect", "bridge", hostname).Run()
	}
}
