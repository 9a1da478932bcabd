package main

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
)

// Migration filename format: 001_name.up.sql / 001_name.down.sql.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// VerifyMigrations checks the migration directory for malformed filenames,
// missing up/down pairs, and gaps in the sequence numbering. It reports the
// first problem found.
func VerifyMigrations(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	type pair struct {
		up   bool
		down bool
	}

	pairs := make(map[int]pair)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		matches := migrationFilenameRegex.FindStringSubmatch(entry.Name())
		if matches == nil {
			return fmt.Errorf("invalid migration filename: %s (expected 001_name.up.sql or 001_name.down.sql)", entry.Name())
		}

		sequence, err := strconv.Atoi(matches[1])
		if err != nil {
			return fmt.Errorf("invalid sequence number in %s: %w", entry.Name(), err)
		}

		p := pairs[sequence]

		if matches[3] == "up" {
			p.up = true
		} else {
			p.down = true
		}

		pairs[sequence] = p
	}

	if len(pairs) == 0 {
		return fmt.Errorf("no migration files found in %s", path)
	}

	sequences := make([]int, 0, len(pairs))
	for sequence := range pairs {
		sequences = append(sequences, sequence)
	}

	sort.Ints(sequences)

	for i, sequence := range sequences {
		p := pairs[sequence]

		if !p.up {
			return fmt.Errorf("migration %03d has a down file but no up file", sequence)
		}

		if !p.down {
			return fmt.Errorf("migration %03d has an up file but no down file", sequence)
		}

		if expected := i + 1; sequence != expected {
			return fmt.Errorf("migration sequence gap: expected %03d, found %03d", expected, sequence)
		}
	}

	return nil
}
