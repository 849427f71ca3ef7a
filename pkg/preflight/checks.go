package preflight

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"strings"

	"golang.org/x/sys/unix"
)

// DiskSpaceCheck verifies that the filesystem holding Path has at least
// MinBytes available to an unprivileged writer.
type DiskSpaceCheck struct {
	Path     string
	MinBytes uint64
}

func (c *DiskSpaceCheck) Name() string { return "disk-space" }

func (c *DiskSpaceCheck) Run(_ context.Context) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(c.Path, &stat); err != nil {
		return Result{
			Detail: fmt.Sprintf("statfs %s failed: %v", c.Path, err),
			Err:    err,
		}
	}
	avail := stat.Bavail * uint64(stat.Bsize)
	return Result{
		Passed: avail >= c.MinBytes,
		Detail: fmt.Sprintf("%s has %d MiB free, need %d MiB",
			c.Path, avail/(1<<20), c.MinBytes/(1<<20)),
	}
}

// MemoryCheck verifies total system memory.
type MemoryCheck struct {
	MinBytes uint64
}

func (c *MemoryCheck) Name() string { return "memory" }

func (c *MemoryCheck) Run(_ context.Context) Result {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return Result{
			Detail: fmt.Sprintf("sysinfo failed: %v", err),
			Err:    err,
		}
	}
	total := uint64(info.Totalram) * uint64(info.Unit)
	return Result{
		Passed: total >= c.MinBytes,
		Detail: fmt.Sprintf("%d MiB total memory, need %d MiB",
			total/(1<<20), c.MinBytes/(1<<20)),
	}
}

// CPUCheck verifies the number of logical CPUs.
type CPUCheck struct {
	MinCores int
}

func (c *CPUCheck) Name() string { return "cpu" }

func (c *CPUCheck) Run(_ context.Context) Result {
	cores := runtime.NumCPU()
	return Result{
		Passed: cores >= c.MinCores,
		Detail: fmt.Sprintf("%d logical CPUs, need %d", cores, c.MinCores),
	}
}

// PortCheck verifies that the given TCP ports are free to bind. Ports that
// the installed services will claim must not already be taken.
type PortCheck struct {
	Ports []int
}

func (c *PortCheck) Name() string { return "ports" }

func (c *PortCheck) Run(ctx context.Context) Result {
	var taken []string
	lc := net.ListenConfig{}
	for _, port := range c.Ports {
		ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			taken = append(taken, fmt.Sprintf("%d", port))
			continue
		}
		ln.Close()
	}
	if len(taken) > 0 {
		return Result{
			Detail: fmt.Sprintf("ports already in use: %s", strings.Join(taken, ", ")),
		}
	}
	return Result{
		Passed: true,
		Detail: fmt.Sprintf("all %d required ports are free", len(c.Ports)),
	}
}

// ContainerEngineCheck verifies that the container engine binary exists and
// its daemon answers. Binary defaults to "docker".
type ContainerEngineCheck struct {
	Binary string
}

func (c *ContainerEngineCheck) Name() string { return "container-engine" }

func (c *ContainerEngineCheck) Run(ctx context.Context) Result {
	binary := c.Binary
	if binary == "" {
		binary = "docker"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return Result{
			Detail: fmt.Sprintf("%s not found in PATH", binary),
		}
	}

	cmd := exec.CommandContext(ctx, path, "version", "--format", "{{.Server.Version}}")
	out, err := cmd.Output()
	if err != nil {
		return Result{
			Detail: fmt.Sprintf("%s found but daemon not reachable: %v", binary, err),
		}
	}
	return Result{
		Passed: true,
		Detail: fmt.Sprintf("%s daemon %s reachable", binary, strings.TrimSpace(string(out))),
	}
}
