package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/DavinciDreams/Megawatts-sub008/internal/pipeline"
	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

var scenarioPath string

// Scenario scripts one experiment end to end. Experiments live in memory, so
// the whole lifecycle runs inside a single invocation.
type Scenario struct {
	Experiment types.ABTestConfig `yaml:"experiment"`

	// Users are assigned in order; Participants generates user_1..user_N
	// when Users is empty.
	Users        []ScenarioUser `yaml:"users"`
	Participants int            `yaml:"participants"`

	Conversions []ScenarioConversion `yaml:"conversions"`

	// ConversionRates converts each assigned user of a variant with the
	// given probability.
	ConversionRates map[string]float64 `yaml:"conversion_rates"`

	Seed     int64 `yaml:"seed"`
	Complete bool  `yaml:"complete"`
	Promote  bool  `yaml:"promote"`
}

type ScenarioUser struct {
	UserID  string `yaml:"user_id"`
	GuildID string `yaml:"guild_id"`
}

type ScenarioConversion struct {
	UserID  string             `yaml:"user_id"`
	Rating  *float64           `yaml:"rating"`
	Metrics map[string]float64 `yaml:"metrics"`
}

// ScenarioReport is what `abtest run` prints.
type ScenarioReport struct {
	Experiment *types.ABTestExperiment `json:"experiment"`
	Analysis   *types.ABTestAnalysis   `json:"analysis"`
	Promotion  *pipeline.Promotion     `json:"promotion,omitempty"`
}

// abtestCmd groups experiment commands
var abtestCmd = &cobra.Command{
	Use:   "abtest",
	Short: "Run A/B experiments",
}

var abtestRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scripted experiment and print its analysis",
	Long: `Creates and starts the experiment, assigns the scenario's users, records
conversions and analyzes the result. With promote: true and a behavior_id, a
significant non-control winner approves that behavior.

Example:
  learn abtest run --scenario reply_length.yaml`,
	RunE: runABTest,
}

func loadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if len(s.Users) == 0 {
		for i := 1; i <= s.Participants; i++ {
			s.Users = append(s.Users, ScenarioUser{UserID: fmt.Sprintf("user_%d", i)})
		}
	}
	if len(s.Users) == 0 {
		return nil, types.Invalidf("scenario has no users")
	}
	return &s, nil
}

// playScenario drives s through engine.
func playScenario(ctx context.Context, engine *pipeline.Engine, s *Scenario) (*ScenarioReport, error) {
	v := engine.Validator()
	exp, err := v.CreateABTest(s.Experiment)
	if err != nil {
		return nil, err
	}
	if _, err := v.StartABTest(exp.ID); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(s.Seed))
	assigned := make(map[string]string, len(s.Users))
	for _, u := range s.Users {
		a, err := v.AssignVariant(ctx, exp.ID, u.UserID, u.GuildID)
		if err != nil {
			return nil, err
		}
		assigned[u.UserID] = a.VariantID
	}

	for _, c := range s.Conversions {
		variant, ok := assigned[c.UserID]
		if !ok {
			return nil, types.Invalidf("conversion for unassigned user %q", c.UserID)
		}
		if err := v.RecordConversion(ctx, exp.ID, variant, c.UserID, c.Rating, c.Metrics); err != nil {
			return nil, err
		}
	}
	if len(s.ConversionRates) > 0 {
		for _, u := range s.Users {
			variant := assigned[u.UserID]
			if rng.Float64() < s.ConversionRates[variant] {
				if err := v.RecordConversion(ctx, exp.ID, variant, u.UserID, nil, nil); err != nil {
					return nil, err
				}
			}
		}
	}

	report := &ScenarioReport{}
	report.Analysis, err = v.AnalyzeABTest(ctx, exp.ID)
	if err != nil {
		return nil, err
	}
	if s.Promote {
		report.Promotion, err = engine.PromoteBehavior(ctx, exp.ID)
		if err != nil {
			return nil, err
		}
	}
	if s.Complete {
		if _, err := v.CompleteABTest(exp.ID); err != nil {
			return nil, err
		}
	}
	report.Experiment, err = v.GetExperiment(exp.ID)
	if err != nil {
		return nil, err
	}
	return report, nil
}

func runABTest(cmd *cobra.Command, args []string) error {
	s, err := loadScenario(scenarioPath)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	repo, err := openRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	seeded := rand.New(rand.NewSource(s.Seed + 1))
	engine := pipeline.NewEngine(repo, cfg, pipeline.WithRandom(seeded.Float64))

	report, err := playScenario(ctx, engine, s)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, report)
	}
	a := report.Analysis
	fmt.Fprintf(out, "Experiment %s (%s): %s\n", report.Experiment.Name, report.Experiment.ID, report.Experiment.Status)
	for _, r := range a.Results {
		control := ""
		if r.IsControl {
			control = " (control)"
		}
		fmt.Fprintf(out, "  %-12s %4d/%-4d conversion=%.1f%% rating=%.2f%s\n",
			r.VariantID, r.Conversions, r.Participants, r.ConversionRate*100, r.AverageRating, control)
	}
	if a.Winner != nil {
		fmt.Fprintf(out, "Winner: %s (significant: %v)\n", a.Winner.VariantID, a.IsSignificant)
	}
	for _, rec := range a.Recommendations {
		fmt.Fprintf(out, "  - %s\n", rec)
	}
	if p := report.Promotion; p != nil {
		fmt.Fprintf(out, "Promotion: %v (%s)\n", p.Promoted, p.Reason)
	}
	return nil
}

func init() {
	abtestRunCmd.Flags().StringVarP(&scenarioPath, "scenario", "s", "", "Scenario YAML file")
	abtestRunCmd.MarkFlagRequired("scenario")
	abtestCmd.AddCommand(abtestRunCmd)
}
