package render

import (
	"regexp"
	"strings"
)

var enumPrefix = regexp.MustCompile(`^\d+\.\s+`)

// checklistItems strips one leading "<number>. " from each non-blank line.
func checklistItems(content string) []string {
	var items []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		items = append(items, enumPrefix.ReplaceAllString(line, ""))
	}
	return items
}

func renderChecklist(content string) ([]byte, error) {
	items := checklistItems(content)
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "☐ " + item
	}
	return []byte(strings.Join(lines, "\n\n")), nil
}
