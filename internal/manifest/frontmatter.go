package manifest

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// parseFrontmatter extracts the YAML frontmatter block from SKILL.md,
// delimited by "---" lines, and decodes it into a SkillManifest.
func parseFrontmatter(path string) (*SkillManifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	var inFrontmatter bool
	var yamlLines []string

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "---" {
			if inFrontmatter {
				break // end of frontmatter
			}
			inFrontmatter = true
			continue
		}
		if inFrontmatter {
			yamlLines = append(yamlLines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(yamlLines) == 0 {
		return nil, fmt.Errorf("no YAML frontmatter found in %s", path)
	}

	var m SkillManifest
	if err := yaml.Unmarshal([]byte(strings.Join(yamlLines, "\n")), &m); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	return &m, nil
}
