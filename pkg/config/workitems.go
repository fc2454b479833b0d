package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// WorkUniverse resolves the work-item universe for one run: the explicit
// code list merged with codes found in the activity log for the configured
// calendar day. Codes are returned trimmed and uppercased, deduplicated,
// in first-seen order.
//
// Activity log format: one record per line, date first, tab separated:
//
//	2026-08-27<TAB>ab-1042<TAB>...rest ignored...
//
// Lines for other days, blank lines and comment lines (#) are skipped.
func (c *Config) WorkUniverse() ([]string, error) {
	seen := make(map[string]struct{})
	var universe []string

	add := func(code string) {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" {
			return
		}
		if _, dup := seen[code]; dup {
			return
		}
		seen[code] = struct{}{}
		universe = append(universe, code)
	}

	for _, code := range c.WorkItems.Codes {
		add(code)
	}

	if c.WorkItems.ActivityLog != "" {
		codes, err := codesFromActivityLog(c.WorkItems.ActivityLog, c.WorkItems.Date)
		if err != nil {
			return nil, err
		}
		for _, code := range codes {
			add(code)
		}
	}

	return universe, nil
}

func codesFromActivityLog(path, date string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open activity log: %w", err)
	}
	defer file.Close()

	var codes []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		if fields[0] != date {
			continue
		}
		codes = append(codes, fields[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read activity log: %w", err)
	}

	return codes, nil
}
