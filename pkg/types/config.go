package types

import "time"

// MarkerConfig holds settings for the external marker converter.
type MarkerConfig struct {
	// Binary is the converter executable (default "marker_single").
	Binary string `json:"binary" yaml:"binary"`

	// APIKey is the Gemini credential forwarded to the converter.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// UseLLM enables the converter's LLM-assisted enrichment mode.
	UseLLM bool `json:"use_llm" yaml:"use_llm"`

	// OutputFormat is passed as --output_format (default "json").
	OutputFormat string `json:"output_format" yaml:"output_format"`
}

// InputConfig selects what to convert. InputFile wins when both are set.
type InputConfig struct {
	InputDir  string `json:"input_dir" yaml:"input_dir"`
	InputFile string `json:"input_file" yaml:"input_file"`
}

// RunConfig groups the settings for one batch run.
type RunConfig struct {
	Input  InputConfig  `json:"input" yaml:"input"`
	Marker MarkerConfig `json:"marker" yaml:"marker"`

	// OutputDir is the output root (default "marker_output").
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// LogFile is the shared converter log, truncated at run start.
	LogFile string `json:"log_file" yaml:"log_file"`

	// JobTimeout bounds each converter invocation; zero means no limit.
	JobTimeout time.Duration `json:"job_timeout" yaml:"job_timeout"`
}
