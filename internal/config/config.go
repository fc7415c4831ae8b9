// Package config loads the YAML benchmark config file named on
// cmd/scale's command line: which dataset to pull rows from, how to
// turn a row into a prompt, the grading label table, and the default
// request parameters sent to the completions endpoint.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/llmbench/scale/internal/dataset"
	"github.com/llmbench/scale/internal/grading"
	"github.com/llmbench/scale/internal/pipeline"
)

// Config is the decoded benchmark config file.
type Config struct {
	Dataset       datasetSection       `yaml:"dataset"`
	PreFormatted  string               `yaml:"pre_formatted_prompt"`
	SentenceTags  []string             `yaml:"sentence_tags"`
	GoldenLabel   string               `yaml:"golden_label_tag"`
	ClassLabel    classLabelSection    `yaml:"class_label"`
	RequestParams requestParamsSection `yaml:"request_params"`
}

type datasetSection struct {
	ID            string `yaml:"id"`
	Config        string `yaml:"config"`
	Split         string `yaml:"split"`
	RowsPerQuery  int    `yaml:"rows_per_query"`
	MaxRows       int    `yaml:"max_rows"`
	MsBetweenCURL int    `yaml:"ms_between_curl"`
}

type classLabelSection struct {
	Tag    string       `yaml:"tag"`
	Values []labelValue `yaml:"values"`
}

type labelValue struct {
	ID       int    `yaml:"id"`
	Response string `yaml:"response"`
}

type requestParamsSection struct {
	Model       string  `yaml:"model"`
	Echo        bool    `yaml:"echo"`
	Temperature float64 `yaml:"temperature"`
	NumLogprobs int     `yaml:"num_logprobs"`
	MaxTokens   int     `yaml:"max_tokens"`
	TopK        int     `yaml:"top_k"`
	Stream      bool    `yaml:"stream"`
}

// Load reads and parses path, then validates it has the fields every
// benchmark run needs.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.PreFormatted == "" {
		return fmt.Errorf("pre_formatted_prompt is required")
	}
	if len(c.SentenceTags) == 0 {
		return fmt.Errorf("sentence_tags must name at least one row field")
	}
	if c.GoldenLabel == "" {
		return fmt.Errorf("golden_label_tag is required")
	}
	if len(c.ClassLabel.Values) == 0 {
		return fmt.Errorf("class_label.values must declare at least one label")
	}
	if c.Dataset.ID == "" || c.Dataset.Config == "" || c.Dataset.Split == "" {
		return fmt.Errorf("dataset.id, dataset.config, and dataset.split are required")
	}
	return nil
}

// DatasetParams converts the config's dataset section into the
// fetch params internal/dataset.Fetch consumes.
func (c *Config) DatasetParams() dataset.Params {
	rowsPerQuery := c.Dataset.RowsPerQuery
	if rowsPerQuery <= 0 {
		rowsPerQuery = 100
	}
	maxRows := c.Dataset.MaxRows
	if maxRows <= 0 {
		maxRows = 1000
	}
	msBetween := c.Dataset.MsBetweenCURL
	if msBetween <= 0 {
		msBetween = 500
	}
	return dataset.Params{
		ID:            c.Dataset.ID,
		Config:        c.Dataset.Config,
		Split:         c.Dataset.Split,
		RowsPerQuery:  rowsPerQuery,
		MaxRows:       maxRows,
		MsBetweenCall: time.Duration(msBetween) * time.Millisecond,
	}
}

// ClassLabelSet converts the config's class_label section into the
// grading.ClassLabel the grading package scores against.
func (c *Config) ClassLabelSet() grading.ClassLabel {
	cl := grading.ClassLabel{Tag: c.ClassLabel.Tag}
	for _, v := range c.ClassLabel.Values {
		cl.Values = append(cl.Values, grading.Label{ID: v.ID, Response: v.Response})
	}
	return cl
}

// RequestDefaults converts the config's request_params section into
// the base RequestParams every row's request is built from. Prompt
// and GoldenLabel are left zero-valued — the caller fills them in per
// row.
func (c *Config) RequestDefaults() pipeline.RequestParams {
	rp := c.RequestParams
	return pipeline.RequestParams{
		Model:       rp.Model,
		Echo:        rp.Echo,
		Temperature: rp.Temperature,
		NumLogprobs: rp.NumLogprobs,
		MaxTokens:   rp.MaxTokens,
		TopK:        rp.TopK,
		Stream:      rp.Stream,
	}
}

// BuildPrompt substitutes row's sentence-tag fields into the
// configured prompt template, in order.
func (c *Config) BuildPrompt(row dataset.Row) string {
	return row.Format(c.PreFormatted, c.SentenceTags)
}
