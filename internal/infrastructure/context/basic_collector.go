package contextcollector

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/ports"
)

// BasicCollector implements HostCollector with uname + tool detection.
type BasicCollector struct {
	toolsToCheck []string
	lookPath     func(string) (string, error)
	runCmd       func(ctx context.Context, name string, args ...string) string
}

func NewBasicCollector() *BasicCollector {
	return &BasicCollector{
		toolsToCheck: []string{"lscpu", "df", "lsblk", "ip", "uname", "systemctl", "journalctl", "lspci", "docker", "nginx"},
		lookPath:     exec.LookPath,
		runCmd:       runCmd,
	}
}

// Collect gathers host facts. Missing pieces are left empty rather than failing.
func (c *BasicCollector) Collect(ctx context.Context) (domain.HostSnapshot, error) {
	hostname, _ := os.Hostname()
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("LOGNAME")
	}
	return domain.HostSnapshot{
		Hostname:       hostname,
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
		Kernel:         strings.TrimSpace(c.runCmd(ctx, "uname", "-r")),
		CPUCount:       runtime.NumCPU(),
		User:           user,
		AvailableTools: c.detectTools(),
	}, nil
}

func (c *BasicCollector) detectTools() []string {
	var available []string
	for _, tool := range c.toolsToCheck {
		if _, err := c.lookPath(tool); err == nil {
			available = append(available, tool)
		}
	}
	sort.Strings(available)
	return available
}

func runCmd(ctx context.Context, name string, args ...string) string {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	out, err := exec.CommandContext(cctx, name, args...).Output()
	if err != nil {
		return ""
	}
	return string(out)
}

var _ ports.HostCollector = (*BasicCollector)(nil)
