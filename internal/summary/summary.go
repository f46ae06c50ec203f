// Package summary names and describes a cluster of complaints with an LLM.
//
// The primary provider is asked twice, once for a short title and once for a
// one-sentence summary. If either request fails, the secondary provider is
// asked once for both fields as schema-validated JSON. Generation never fails
// the caller: when both providers fail the Result carries StatusFailed.
package summary

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/complaintlens/internal/llm"
	"github.com/dshills/complaintlens/internal/storage"
)

// Provider names recorded on clusters
const (
	ProviderPrimary   = "gigachat"
	ProviderSecondary = "openrouter"
	ProviderNone      = "none"
)

// Fixed texts
const (
	NoDataText            = "No data to analyze"
	FailedName            = "failed to generate name"
	FailedSummary         = "failed to generate summary"
	DefaultName           = "Unnamed Cluster"
	DefaultSummary        = "No summary available"
	DefaultSampleSize     = 50
	DefaultLanguage       = "Russian"
	maxComplaintRuneCount = 500
)

// Status tags how a Result was produced
type Status int

const (
	StatusGenerated Status = iota
	StatusNoData
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusGenerated:
		return "generated"
	case StatusNoData:
		return "no_data"
	default:
		return "failed"
	}
}

// Result is the outcome of one generation
type Result struct {
	Name     string
	Summary  string
	Provider string
	Status   Status
}

// NoData is returned for clusters without members
func NoData() Result {
	return Result{Name: NoDataText, Summary: NoDataText, Provider: ProviderNone, Status: StatusNoData}
}

// Failed is returned when no provider produced an answer
func Failed() Result {
	return Result{Name: FailedName, Summary: FailedSummary, Provider: ProviderNone, Status: StatusFailed}
}

// ChatClient is a plain-text chat completion
type ChatClient interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// StructuredClient is a chat completion constrained to a JSON schema
type StructuredClient interface {
	ChatJSON(ctx context.Context, prompt, schemaName string, schema map[string]interface{}, out interface{}) error
}

// MemberSource lists the complaints of a cluster
type MemberSource interface {
	ListComplaintsByCluster(ctx context.Context, clusterID int64) ([]*storage.Complaint, error)
}

// Config contains configuration for the generator
type Config struct {
	Language   string
	SampleSize int
}

// Generator produces cluster names and summaries. Either client may be nil.
type Generator struct {
	members    MemberSource
	primary    ChatClient
	secondary  StructuredClient
	language   string
	sampleSize int
	logger     *zap.Logger
}

// NewGenerator creates a generator
func NewGenerator(members MemberSource, primary ChatClient, secondary StructuredClient, logger *zap.Logger, cfg Config) *Generator {
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = DefaultSampleSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		members:    members,
		primary:    primary,
		secondary:  secondary,
		language:   cfg.Language,
		sampleSize: cfg.SampleSize,
		logger:     logger,
	}
}

// clusterSummary is the structured answer of the secondary provider
type clusterSummary struct {
	Name    string `json:"name" jsonschema:"required,description=Name of the cluster describing the main problem in 2-3 words"`
	Summary string `json:"summary" jsonschema:"required,description=Summary of the complaints in 10-20 words"`
}

var clusterSummarySchema = llm.GenerateSchema[clusterSummary]()

// Generate loads the members of a cluster and summarises them.
// Only a storage failure is returned as an error.
func (g *Generator) Generate(ctx context.Context, clusterID int64) (Result, error) {
	members, err := g.members.ListComplaintsByCluster(ctx, clusterID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load cluster %d members: %w", clusterID, err)
	}
	texts := make([]string, 0, len(members))
	for _, c := range members {
		if t := strings.TrimSpace(c.Text); t != "" {
			texts = append(texts, t)
		}
	}
	return g.GenerateForTexts(ctx, texts), nil
}

// GenerateForTexts summarises the given complaint texts
func (g *Generator) GenerateForTexts(ctx context.Context, texts []string) Result {
	if len(texts) == 0 {
		return NoData()
	}
	sample := g.sample(texts)
	listing := formatComplaints(sample)

	if g.primary != nil {
		res, err := g.generatePrimary(ctx, listing)
		if err == nil {
			return res
		}
		g.logger.Warn("primary summary generation failed", zap.Error(err))
	}

	if g.secondary != nil {
		res, err := g.generateSecondary(ctx, listing)
		if err == nil {
			return res
		}
		g.logger.Warn("secondary summary generation failed", zap.Error(err))
	}

	return Failed()
}

func (g *Generator) generatePrimary(ctx context.Context, listing string) (Result, error) {
	name, err := g.primary.Chat(ctx, titlePrompt(g.language, listing))
	if err != nil {
		return Result{}, fmt.Errorf("title request: %w", err)
	}
	name = cleanTitle(name)
	if name == "" {
		return Result{}, errors.New("title request: empty reply")
	}

	text, err := g.primary.Chat(ctx, summaryPrompt(g.language, listing))
	if err != nil {
		return Result{}, fmt.Errorf("summary request: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, errors.New("summary request: empty reply")
	}

	return Result{Name: name, Summary: text, Provider: ProviderPrimary, Status: StatusGenerated}, nil
}

func (g *Generator) generateSecondary(ctx context.Context, listing string) (Result, error) {
	var out clusterSummary
	if err := g.secondary.ChatJSON(ctx, structuredPrompt(g.language, listing), "cluster_summary", clusterSummarySchema, &out); err != nil {
		return Result{}, err
	}
	name := cleanTitle(out.Name)
	if name == "" {
		name = DefaultName
	}
	text := strings.TrimSpace(out.Summary)
	if text == "" {
		text = DefaultSummary
	}
	return Result{Name: name, Summary: text, Provider: ProviderSecondary, Status: StatusGenerated}, nil
}

// sample returns at most sampleSize texts, chosen at random when there are more
func (g *Generator) sample(texts []string) []string {
	if len(texts) <= g.sampleSize {
		return texts
	}
	picked := make([]string, 0, g.sampleSize)
	for _, i := range rand.Perm(len(texts))[:g.sampleSize] {
		picked = append(picked, texts[i])
	}
	return picked
}

func formatComplaints(texts []string) string {
	var b strings.Builder
	for i, t := range texts {
		r := []rune(t)
		if len(r) > maxComplaintRuneCount {
			t = string(r[:maxComplaintRuneCount]) + "..."
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, t)
	}
	return b.String()
}

func titlePrompt(language, listing string) string {
	return "Below are customer complaints that belong to one group.\n" +
		"Name the main problem they share in 2-3 words. Answer in " + language +
		" with the title only, no quotes or punctuation.\n\n" + listing
}

func summaryPrompt(language, listing string) string {
	return "Below are customer complaints that belong to one group.\n" +
		"Describe the common problem in one sentence of 10-20 words. Answer in " + language +
		" with the sentence only.\n\n" + listing
}

func structuredPrompt(language, listing string) string {
	return "Below are customer complaints that belong to one group.\n" +
		"Return a name for the group (2-3 words describing the main problem) and a summary " +
		"(10-20 words). Write both in " + language + ".\n\n" + listing
}

// cleanTitle strips the quotes and trailing dot models like to add
func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'«»`")
	s = strings.TrimSuffix(s, ".")
	return strings.TrimSpace(s)
}
