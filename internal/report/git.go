package report

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/esp32-tools/memharness/internal/models"
)

const gitTimeout = 3 * time.Second

// GitInfo describes the working tree at dir. Every field is best effort;
// a missing git binary or a non-repository yields the zero value.
func GitInfo(ctx context.Context, dir string) models.GitInfo {
	run := func(args ...string) string {
		ctx, cancel := context.WithTimeout(ctx, gitTimeout)
		defer cancel()
		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = dir
		out, err := cmd.Output()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(out))
	}

	info := models.GitInfo{
		Commit: run("rev-parse", "--short", "HEAD"),
		Branch: run("rev-parse", "--abbrev-ref", "HEAD"),
	}
	if info.Commit != "" {
		info.Status = run("status", "--porcelain")
		info.Dirty = info.Status != ""
	}
	return info
}
