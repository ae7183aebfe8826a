package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/memorilabs/memori/internal/domain"
)

// Extraction is the validated structured output of one analysis call.
type Extraction struct {
	Store               bool
	Summary             string
	SearchableContent   string
	Category            domain.Category
	SecondaryCategories []domain.CategoryTag
	Importance          domain.Importance
	Classification      domain.Classification
	PromotionEligible   bool
	Retention           domain.Retention
	Entities            []domain.Entity
}

// BuildExtractionMessages assembles the fixed system prompt plus the turn
// to analyze. Recent summaries and user-context hints ground the extraction.
func BuildExtractionMessages(turn *domain.ChatTurn, userCtx domain.UserContext, recentSummaries []string) []domain.Message {
	messages := []domain.Message{{Role: domain.RoleSystem, Content: extractionPrompt}}

	if !userCtx.Empty() || len(recentSummaries) > 0 {
		hints := formatUserContext(userCtx)
		if hints == "" {
			hints = "(none)"
		}
		summaries := "(none)"
		if len(recentSummaries) > 0 {
			summaries = "- " + strings.Join(recentSummaries, "\n- ")
		}
		messages = append(messages, domain.Message{
			Role:    domain.RoleSystem,
			Content: fmt.Sprintf(extractionContextPrompt, hints, summaries),
		})
	}

	messages = append(messages, domain.Message{
		Role:    domain.RoleUser,
		Content: fmt.Sprintf("User: %s\nAssistant: %s", turn.UserInput, turn.AIOutput),
	})
	return messages
}

func formatUserContext(u domain.UserContext) string {
	var parts []string
	if len(u.CurrentProjects) > 0 {
		parts = append(parts, "Projects: "+strings.Join(u.CurrentProjects, ", "))
	}
	if len(u.Skills) > 0 {
		parts = append(parts, "Skills: "+strings.Join(u.Skills, ", "))
	}
	if len(u.Preferences) > 0 {
		parts = append(parts, "Preferences: "+strings.Join(u.Preferences, ", "))
	}
	return strings.Join(parts, "\n")
}

type rawExtraction struct {
	Store               bool   `json:"store"`
	Summary             string `json:"summary"`
	SearchableContent   string `json:"searchable_content"`
	Category            string `json:"category"`
	SecondaryCategories []struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	} `json:"secondary_categories"`
	Importance        string `json:"importance"`
	Classification    string `json:"classification"`
	PromotionEligible bool   `json:"promotion_eligible"`
	Retention         string `json:"retention"`
	Entities          []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"entities"`
}

// ParseExtraction validates the analysis output against the extraction
// schema. Invalid output is rejected, never coerced.
func ParseExtraction(output string) (*Extraction, error) {
	var raw rawExtraction
	if err := json.Unmarshal([]byte(stripFences(output)), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	if !raw.Store {
		return &Extraction{Store: false}, nil
	}

	if strings.TrimSpace(raw.Summary) == "" || strings.TrimSpace(raw.SearchableContent) == "" {
		return nil, fmt.Errorf("%w: empty summary or searchable content", ErrInvalidOutput)
	}
	if len(raw.Summary) > domain.MaxSummaryLen {
		return nil, fmt.Errorf("%w: summary exceeds %d chars", ErrInvalidOutput, domain.MaxSummaryLen)
	}
	if len(raw.SearchableContent) > domain.MaxSearchableContentLen {
		return nil, fmt.Errorf("%w: searchable content exceeds %d chars", ErrInvalidOutput, domain.MaxSearchableContentLen)
	}
	if !domain.ValidCategory(raw.Category) {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidOutput, raw.Category)
	}
	if !domain.ValidImportance(raw.Importance) {
		return nil, fmt.Errorf("%w: unknown importance %q", ErrInvalidOutput, raw.Importance)
	}
	if !domain.ValidClassification(raw.Classification) {
		return nil, fmt.Errorf("%w: unknown classification %q", ErrInvalidOutput, raw.Classification)
	}
	if raw.Retention == "" {
		raw.Retention = string(domain.RetentionLongTerm)
	}
	if !domain.ValidRetention(raw.Retention) {
		return nil, fmt.Errorf("%w: unknown retention %q", ErrInvalidOutput, raw.Retention)
	}

	ex := &Extraction{
		Store:             true,
		Summary:           raw.Summary,
		SearchableContent: raw.SearchableContent,
		Category:          domain.Category(raw.Category),
		Importance:        domain.Importance(raw.Importance),
		Classification:    domain.Classification(raw.Classification),
		PromotionEligible: raw.PromotionEligible,
		Retention:         domain.Retention(raw.Retention),
	}

	// Essential memories are always promoted.
	if ex.Classification == domain.ClassificationEssential {
		ex.PromotionEligible = true
	}

	for _, c := range raw.SecondaryCategories {
		if !domain.ValidCategory(c.Category) {
			return nil, fmt.Errorf("%w: unknown secondary category %q", ErrInvalidOutput, c.Category)
		}
		ex.SecondaryCategories = append(ex.SecondaryCategories, domain.CategoryTag{
			Category:   domain.Category(c.Category),
			Confidence: c.Confidence,
		})
	}
	for _, e := range raw.Entities {
		if !domain.ValidEntityType(e.Type) {
			return nil, fmt.Errorf("%w: unknown entity type %q", ErrInvalidOutput, e.Type)
		}
		if strings.TrimSpace(e.Value) == "" {
			continue
		}
		ex.Entities = append(ex.Entities, domain.Entity{
			Type:  domain.EntityType(e.Type),
			Value: strings.ToLower(strings.TrimSpace(e.Value)),
		})
	}
	return ex, nil
}

// BuildPlannerMessages wraps a raw query in the retrieval-planner prompt.
func BuildPlannerMessages(query string) []domain.Message {
	return []domain.Message{{Role: domain.RoleUser, Content: fmt.Sprintf(plannerPrompt, query)}}
}

type rawPlan struct {
	Keywords []string `json:"keywords"`
	Category string   `json:"category"`
	Entities []string `json:"entities"`
	Limit    int      `json:"limit"`
}

// ParsePlan validates planner output into a search plan.
func ParsePlan(output string) (*domain.SearchPlan, error) {
	var raw rawPlan
	if err := json.Unmarshal([]byte(stripFences(output)), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if len(raw.Keywords) == 0 {
		return nil, fmt.Errorf("%w: plan has no keywords", ErrInvalidOutput)
	}

	plan := &domain.SearchPlan{
		Keywords: raw.Keywords,
		Entities: raw.Entities,
		Limit:    raw.Limit,
	}
	if raw.Category != "" {
		if !domain.ValidCategory(raw.Category) {
			return nil, fmt.Errorf("%w: unknown plan category %q", ErrInvalidOutput, raw.Category)
		}
		c := domain.Category(raw.Category)
		plan.Category = &c
	}
	return plan, nil
}

// stripFences removes a surrounding markdown code fence, which some models
// emit despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
