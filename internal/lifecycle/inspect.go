package lifecycle

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
)

// ActiveJobPrefix starts every job line printed by the inspect command.
const ActiveJobPrefix = "* "

var errNoInspectCommand = errors.New("no inspect command configured")

// ActiveJobs asks a worker which sub-tasks it is running. Any failure
// degrades to an empty list.
func (m *Manager) ActiveJobs(ctx context.Context, name string) []fleet.ActiveJob {
	if len(m.cfg.InspectCommand) == 0 {
		m.logger.Warn("cannot inspect worker", zap.String("name", name), zap.Error(errNoInspectCommand))
		return nil
	}
	out, err := m.runtime.Exec(ctx, name, m.cfg.InspectCommand)
	if err != nil {
		m.logger.Warn("inspect worker failed", zap.String("name", name), zap.Error(err))
		return nil
	}
	jobs, skipped := ParseActiveJobs(out)
	if skipped > 0 {
		m.logger.Warn("skipped malformed active job lines", zap.String("name", name), zap.Int("skipped", skipped))
	}
	return jobs
}

// ParseActiveJobs extracts "* {json}" lines, returning the decoded jobs and
// how many job lines could not be decoded. Other lines are ignored.
func ParseActiveJobs(output string) ([]fleet.ActiveJob, int) {
	var (
		jobs    []fleet.ActiveJob
		skipped int
	)
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, ActiveJobPrefix) {
			continue
		}
		var job fleet.ActiveJob
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, ActiveJobPrefix)), &job); err != nil {
			skipped++
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, skipped
}

// FormatActiveJob renders one job line in the form ParseActiveJobs reads.
func FormatActiveJob(job fleet.ActiveJob) (string, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	return ActiveJobPrefix + string(data), nil
}
