package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/tripatlas/tripatlas-backend/internal/types"
)

// Each generation sub-task produces one typed section document. The
// provider returns open JSON; decodeSection converts it to the typed
// shape and a failed Validate is treated exactly like a provider
// failure so malformed output never reaches a committed record.

type sectionDocument interface {
	Validate() error
}

// ---- temporal ----

type EraBucket struct {
	Label      string `json:"label"`
	PlaceCount int    `json:"place_count"`
	Highlight  string `json:"highlight"`
}

type TemporalPatterns struct {
	Summary     string      `json:"summary"`
	TravelPace  string      `json:"travel_pace"`
	Progression string      `json:"progression"`
	Eras        []EraBucket `json:"eras"`
}

func (t *TemporalPatterns) Validate() error {
	if strings.TrimSpace(t.Summary) == "" {
		return fmt.Errorf("temporal: missing summary")
	}
	if len(t.Eras) == 0 {
		return fmt.Errorf("temporal: missing eras")
	}
	return nil
}

// ---- spatial ----

type RegionCluster struct {
	Name       string `json:"name"`
	PlaceCount int    `json:"place_count"`
	Signature  string `json:"signature"`
}

type SpatialFootprint struct {
	Summary  string          `json:"summary"`
	HomeBias string          `json:"home_bias"`
	Regions  []RegionCluster `json:"regions"`
}

func (s *SpatialFootprint) Validate() error {
	if strings.TrimSpace(s.Summary) == "" {
		return fmt.Errorf("spatial: missing summary")
	}
	if len(s.Regions) == 0 {
		return fmt.Errorf("spatial: missing regions")
	}
	return nil
}

// ---- behavioral ----

type CategoryAffinity struct {
	Category string `json:"category"`
	Strength int    `json:"strength"`
}

type BehavioralProfile struct {
	Summary    string             `json:"summary"`
	Archetype  string             `json:"archetype"`
	Affinities []CategoryAffinity `json:"affinities"`
	Habits     []string           `json:"habits"`
}

func (b *BehavioralProfile) Validate() error {
	if strings.TrimSpace(b.Summary) == "" {
		return fmt.Errorf("behavioral: missing summary")
	}
	if strings.TrimSpace(b.Archetype) == "" {
		return fmt.Errorf("behavioral: missing archetype")
	}
	return nil
}

// ---- predictive ----

type Recommendation struct {
	Name       string `json:"name"`
	Reason     string `json:"reason"`
	MatchScore int    `json:"match_score"`
}

type PredictiveOutlook struct {
	Summary         string           `json:"summary"`
	NextCategory    string           `json:"next_category"`
	Recommendations []Recommendation `json:"recommendations"`
}

func (p *PredictiveOutlook) Validate() error {
	if strings.TrimSpace(p.Summary) == "" {
		return fmt.Errorf("predictive: missing summary")
	}
	if len(p.Recommendations) == 0 {
		return fmt.Errorf("predictive: missing recommendations")
	}
	return nil
}

// ---- cross-cutting insights ----

type CrossCuttingInsights struct {
	Summary           string   `json:"summary"`
	NotablePatterns   []string `json:"notable_patterns"`
	HiddenConnections []string `json:"hidden_connections"`
}

func (c *CrossCuttingInsights) Validate() error {
	if strings.TrimSpace(c.Summary) == "" {
		return fmt.Errorf("insights: missing summary")
	}
	if len(c.NotablePatterns) == 0 {
		return fmt.Errorf("insights: missing notable_patterns")
	}
	return nil
}

// ---- peer comparison ----

type PeerComparison struct {
	Summary          string   `json:"summary"`
	ClosestArchetype string   `json:"closest_archetype"`
	Percentile       int      `json:"percentile"`
	Differentiators  []string `json:"differentiators"`
}

func (p *PeerComparison) Validate() error {
	if strings.TrimSpace(p.Summary) == "" {
		return fmt.Errorf("comparative: missing summary")
	}
	if strings.TrimSpace(p.ClosestArchetype) == "" {
		return fmt.Errorf("comparative: missing closest_archetype")
	}
	if p.Percentile < 0 || p.Percentile > 100 {
		return fmt.Errorf("comparative: percentile out of range: %d", p.Percentile)
	}
	return nil
}

func decodeSection(obj map[string]any, out sectionDocument) (datatypes.JSON, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode section: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("decode section: %w", err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	typed, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("re-encode section: %w", err)
	}
	return datatypes.JSON(typed), nil
}

// ---- sub-task catalogue ----

type subtask struct {
	key        string
	stage      string
	schemaName string
	system     string
	schema     map[string]any
	decode     func(obj map[string]any) (datatypes.JSON, error)
}

func strProp() map[string]any { return map[string]any{"type": "string"} }
func intProp() map[string]any { return map[string]any{"type": "integer"} }
func strArrayProp() map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
}
func objArrayProp(props map[string]any, required []string) map[string]any {
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":                 "object",
			"properties":           props,
			"required":             required,
			"additionalProperties": false,
		},
	}
}
func objSchema(props map[string]any, required []string) map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func analysisSubtasks() []subtask {
	return []subtask{
		{
			key:        "temporal",
			stage:      "Analyzing travel timeline",
			schemaName: "temporal_patterns",
			system:     "You analyze a traveler's chronological visit history and describe how their travel has evolved over time. The visits are listed oldest first; reason about progression across that ordering.",
			schema: objSchema(map[string]any{
				"summary":     strProp(),
				"travel_pace": strProp(),
				"progression": strProp(),
				"eras": objArrayProp(map[string]any{
					"label":       strProp(),
					"place_count": intProp(),
					"highlight":   strProp(),
				}, []string{"label", "place_count", "highlight"}),
			}, []string{"summary", "travel_pace", "progression", "eras"}),
			decode: func(obj map[string]any) (datatypes.JSON, error) {
				return decodeSection(obj, &TemporalPatterns{})
			},
		},
		{
			key:        "spatial",
			stage:      "Mapping geographic footprint",
			schemaName: "spatial_footprint",
			system:     "You analyze the geography of a traveler's visit history: regional clusters, range and home bias.",
			schema: objSchema(map[string]any{
				"summary":   strProp(),
				"home_bias": strProp(),
				"regions": objArrayProp(map[string]any{
					"name":        strProp(),
					"place_count": intProp(),
					"signature":   strProp(),
				}, []string{"name", "place_count", "signature"}),
			}, []string{"summary", "home_bias", "regions"}),
			decode: func(obj map[string]any) (datatypes.JSON, error) {
				return decodeSection(obj, &SpatialFootprint{})
			},
		},
		{
			key:        "behavioral",
			stage:      "Profiling travel behavior",
			schemaName: "behavioral_profile",
			system:     "You infer a traveler's behavioral profile from their visit history: an archetype, category affinities and recurring habits. Affinity strength is 0-100.",
			schema: objSchema(map[string]any{
				"summary":   strProp(),
				"archetype": strProp(),
				"affinities": objArrayProp(map[string]any{
					"category": strProp(),
					"strength": intProp(),
				}, []string{"category", "strength"}),
				"habits": strArrayProp(),
			}, []string{"summary", "archetype", "affinities", "habits"}),
			decode: func(obj map[string]any) (datatypes.JSON, error) {
				return decodeSection(obj, &BehavioralProfile{})
			},
		},
		{
			key:        "predictive",
			stage:      "Projecting future travel",
			schemaName: "predictive_outlook",
			system:     "You predict where a traveler is likely to go next based on their visit history. Recommend concrete destinations with a 0-100 match score and the category they are most likely to explore next.",
			schema: objSchema(map[string]any{
				"summary":       strProp(),
				"next_category": strProp(),
				"recommendations": objArrayProp(map[string]any{
					"name":        strProp(),
					"reason":      strProp(),
					"match_score": intProp(),
				}, []string{"name", "reason", "match_score"}),
			}, []string{"summary", "next_category", "recommendations"}),
			decode: func(obj map[string]any) (datatypes.JSON, error) {
				return decodeSection(obj, &PredictiveOutlook{})
			},
		},
		{
			key:        "insights",
			stage:      "Finding cross-cutting insights",
			schemaName: "cross_cutting_insights",
			system:     "You surface non-obvious patterns that cut across a traveler's whole visit history: combinations of time, place and category the traveler themselves may not have noticed.",
			schema: objSchema(map[string]any{
				"summary":            strProp(),
				"notable_patterns":   strArrayProp(),
				"hidden_connections": strArrayProp(),
			}, []string{"summary", "notable_patterns", "hidden_connections"}),
			decode: func(obj map[string]any) (datatypes.JSON, error) {
				return decodeSection(obj, &CrossCuttingInsights{})
			},
		},
		{
			key:        "comparative",
			stage:      "Comparing against traveler archetypes",
			schemaName: "peer_comparison",
			system:     "You compare a traveler's visit history against common traveler archetypes, name the closest one, estimate a 0-100 percentile of how strongly they match it, and list what sets them apart.",
			schema: objSchema(map[string]any{
				"summary":           strProp(),
				"closest_archetype": strProp(),
				"percentile":        intProp(),
				"differentiators":   strArrayProp(),
			}, []string{"summary", "closest_archetype", "percentile", "differentiators"}),
			decode: func(obj map[string]any) (datatypes.JSON, error) {
				return decodeSection(obj, &PeerComparison{})
			},
		},
	}
}

// buildVisitDigest renders the normalized, chronologically sorted
// visit list into the prompt body shared by every sub-task.
func buildVisitDigest(visits []types.Visit) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Visit history (%d places, oldest first):\n", len(visits)))
	for i, v := range visits {
		b.WriteString(fmt.Sprintf("%d. %s — %s", i+1, v.Name, v.Location))
		if v.Category != "" {
			b.WriteString(fmt.Sprintf(" [%s]", v.Category))
		}
		if !v.VisitedAt.IsZero() {
			b.WriteString(" visited " + v.VisitedAt.Format("2006-01-02"))
		}
		if v.Latitude != 0 || v.Longitude != 0 {
			b.WriteString(fmt.Sprintf(" (%.4f, %.4f)", v.Latitude, v.Longitude))
		}
		if v.Rating != nil {
			b.WriteString(fmt.Sprintf(" rated %.1f/5", *v.Rating))
		}
		b.WriteString("\n")
	}
	b.WriteString("\nToday's date: " + time.Now().Format("2006-01-02") + "\n")
	return b.String()
}
