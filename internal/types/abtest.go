package types

import "time"

// ExperimentStatus is the lifecycle state of an A/B experiment.
type ExperimentStatus string

const (
	ExperimentDraft     ExperimentStatus = "draft"
	ExperimentRunning   ExperimentStatus = "running"
	ExperimentPaused    ExperimentStatus = "paused"
	ExperimentCompleted ExperimentStatus = "completed"
	ExperimentCancelled ExperimentStatus = "cancelled"
)

// ABTestVariantConfig describes one arm of a proposed experiment.
type ABTestVariantConfig struct {
	ID                   string         `yaml:"id" json:"id,omitempty"`
	Name                 string         `yaml:"name" json:"name,omitempty"`
	Description          string         `yaml:"description" json:"description,omitempty"`
	AllocationPercentage float64        `yaml:"allocation_percentage" json:"allocation_percentage" validate:"gte=0,lte=100"`
	IsControl            bool           `yaml:"is_control" json:"is_control"`
	Config               map[string]any `yaml:"config" json:"config,omitempty"`
}

// ABTestConfig is the input to CreateABTest.
type ABTestConfig struct {
	Name            string                `yaml:"name" json:"name" validate:"required"`
	Description     string                `yaml:"description" json:"description,omitempty"`
	Hypothesis      string                `yaml:"hypothesis" json:"hypothesis" validate:"required"`
	SuccessCriteria []string              `yaml:"success_criteria" json:"success_criteria" validate:"required,min=1,dive,required"`
	BehaviorID      string                `yaml:"behavior_id" json:"behavior_id,omitempty"`
	Variants        []ABTestVariantConfig `yaml:"variants" json:"variants" validate:"required,min=2,dive"`
}

// ABTestVariant is one arm of a live experiment with its running tallies.
type ABTestVariant struct {
	ID                   string             `json:"id"`
	Name                 string             `json:"name"`
	Description          string             `json:"description,omitempty"`
	AllocationPercentage float64            `json:"allocation_percentage"`
	IsControl            bool               `json:"is_control"`
	Config               map[string]any     `json:"config,omitempty"`
	Participants         int                `json:"participants"`
	Conversions          int                `json:"conversions"`
	AverageRating        float64            `json:"average_rating"`
	RatingCount          int                `json:"rating_count"`
	CustomMetrics        map[string]float64 `json:"custom_metrics,omitempty"`
}

// ConversionRate is conversions over participants, zero without participants.
func (v *ABTestVariant) ConversionRate() float64 {
	if v.Participants == 0 {
		return 0
	}
	return float64(v.Conversions) / float64(v.Participants)
}

// ABTestExperiment is experiment metadata plus its variants.
type ABTestExperiment struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	Hypothesis      string           `json:"hypothesis"`
	SuccessCriteria []string         `json:"success_criteria"`
	BehaviorID      string           `json:"behavior_id,omitempty"`
	Status          ExperimentStatus `json:"status"`
	Variants        []*ABTestVariant `json:"variants"`
	StartDate       *time.Time       `json:"start_date,omitempty"`
	EndDate         *time.Time       `json:"end_date,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Variant returns the variant with the given id.
func (e *ABTestExperiment) Variant(id string) *ABTestVariant {
	for _, v := range e.Variants {
		if v.ID == id {
			return v
		}
	}
	return nil
}

// Control returns the control variant.
func (e *ABTestExperiment) Control() *ABTestVariant {
	for _, v := range e.Variants {
		if v.IsControl {
			return v
		}
	}
	return nil
}

// ABTestAssignment is the sticky variant choice for one user.
type ABTestAssignment struct {
	ExperimentID string    `json:"experiment_id"`
	VariantID    string    `json:"variant_id"`
	UserID       string    `json:"user_id"`
	GuildID      string    `json:"guild_id,omitempty"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// VariantResult is the per-variant row of an analysis.
type VariantResult struct {
	VariantID      string             `json:"variant_id"`
	Name           string             `json:"name"`
	IsControl      bool               `json:"is_control"`
	Participants   int                `json:"participants"`
	Conversions    int                `json:"conversions"`
	ConversionRate float64            `json:"conversion_rate"`
	AverageRating  float64            `json:"average_rating"`
	CustomMetrics  map[string]float64 `json:"custom_metrics,omitempty"`
}

// ABTestAnalysis is the output of AnalyzeABTest.
//
// Confidence holds the winner's average rating, not a statistical confidence.
type ABTestAnalysis struct {
	ExperimentID    string          `json:"experiment_id"`
	Results         []VariantResult `json:"results"`
	Winner          *VariantResult  `json:"winner,omitempty"`
	IsSignificant   bool            `json:"is_significant"`
	Confidence      float64         `json:"confidence"`
	Recommendations []string        `json:"recommendations"`
	AnalyzedAt      time.Time       `json:"analyzed_at"`
}
