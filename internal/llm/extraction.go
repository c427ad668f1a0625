package llm

import (
	"bufio"
	"strings"

	"github.com/samber/lo"

	"github.com/raphaelgruber/docbatch/internal/models"
)

// Extraction is the parsed answer of an extraction prompt.
// Relationships carry the ai_detected origin.
type Extraction struct {
	Entities      []models.Entity
	Relationships []models.Relationship
}

// ParseExtraction reads ENTITY|name|type|description and
// RELATION|source|target|type|description lines. Anything else, including
// lines with too few fields, is ignored. Entities are deduplicated by name.
func ParseExtraction(raw string) *Extraction {
	out := &Extraction{}
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(strings.Trim(strings.TrimSpace(scanner.Text()), "-*`"))
		parts := lo.Map(strings.Split(line, "|"), func(p string, _ int) string {
			return strings.TrimSpace(p)
		})

		switch strings.ToUpper(parts[0]) {
		case "ENTITY":
			if len(parts) < 3 || parts[1] == "" {
				continue
			}
			name := normalizeName(parts[1])
			if seen[name] {
				continue
			}
			seen[name] = true
			out.Entities = append(out.Entities, models.Entity{
				Name:        name,
				Type:        strings.ToLower(parts[2]),
				Description: field(parts, 3),
			})

		case "RELATION":
			if len(parts) < 4 || parts[1] == "" || parts[2] == "" {
				continue
			}
			out.Relationships = append(out.Relationships, models.Relationship{
				Source:      normalizeName(parts[1]),
				Target:      normalizeName(parts[2]),
				Type:        strings.ToLower(parts[3]),
				Description: field(parts, 4),
				Origin:      models.RelationshipAIDetected,
			})
		}
	}
	return out
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "-")
}

func field(parts []string, i int) string {
	if i < len(parts) {
		return parts[i]
	}
	return ""
}
