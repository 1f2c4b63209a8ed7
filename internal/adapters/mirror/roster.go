package mirror

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"digestbot/internal/domain"
)

// LoadRoster reads screen names from a UTF-8 text file, one per line;
// blank lines and lines starting with # are skipped. An empty roster is a
// configuration error, per spec §4.1.
func LoadRoster(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.Wrap(domain.KindConfigInvalid, "LoadRoster", err)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, domain.Wrap(domain.KindConfigInvalid, "LoadRoster", err)
	}
	if len(names) == 0 {
		return nil, domain.Wrap(domain.KindConfigInvalid, "LoadRoster", fmt.Errorf("%s: no usernames configured", path))
	}
	return names, nil
}
