package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*GenAIOptions)(nil)

// GenAIOptions configures the reasoner and planner models.
type GenAIOptions struct {
	Enabled       bool          `json:"enabled" mapstructure:"enabled"`
	APIKey        string        `json:"api-key" mapstructure:"api-key"`
	ReasonerModel string        `json:"reasoner-model" mapstructure:"reasoner-model"`
	PlannerModel  string        `json:"planner-model" mapstructure:"planner-model"`
	Temperature   float32       `json:"temperature" mapstructure:"temperature"`
	Timeout       time.Duration `json:"timeout" mapstructure:"timeout"`
}

func NewGenAIOptions() *GenAIOptions {
	return &GenAIOptions{
		ReasonerModel: "gemini-2.5-flash",
		PlannerModel:  "gemini-2.5-pro",
		Temperature:   0.2,
		Timeout:       30 * time.Second,
	}
}

func (o *GenAIOptions) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}

	errors := []error{}

	if o.APIKey == "" {
		errors = append(errors, fmt.Errorf("genai.api-key is required when genai is enabled"))
	}
	if o.ReasonerModel == "" || o.PlannerModel == "" {
		errors = append(errors, fmt.Errorf("genai.reasoner-model and genai.planner-model must be set"))
	}
	if o.Temperature < 0 || o.Temperature > 2 {
		errors = append(errors, fmt.Errorf("genai.temperature must be within [0, 2]"))
	}

	return errors
}

func (o *GenAIOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, join(prefixes, "genai.enabled"), o.Enabled, "Enable the Gemini-backed reasoner and planner.")
	fs.StringVar(&o.APIKey, join(prefixes, "genai.api-key"), o.APIKey, "Gemini API key.")
	fs.StringVar(&o.ReasonerModel, join(prefixes, "genai.reasoner-model"), o.ReasonerModel, "Model deciding whether a browser action is required.")
	fs.StringVar(&o.PlannerModel, join(prefixes, "genai.planner-model"), o.PlannerModel, "Model producing commands and success criteria.")
	fs.Float32Var(&o.Temperature, join(prefixes, "genai.temperature"), o.Temperature, "Sampling temperature.")
	fs.DurationVar(&o.Timeout, join(prefixes, "genai.timeout"), o.Timeout, "Timeout of a single model call.")
}
