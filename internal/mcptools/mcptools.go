package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mitchellh/mapstructure"
	"github.com/spigell/intern-allocator/internal/cycle"
	"github.com/spigell/intern-allocator/internal/internship"
	"go.uber.org/zap"
)

const (
	serverName = "intern-allocator"

	ToolTriggerAllocation = "trigger_allocation"
	ToolComputeScore      = "compute_score"
	ToolConfirmAllocation = "confirm_allocation"
)

type cycleRunner interface {
	RunCycle(ctx context.Context, trigger cycle.Trigger, includeExpiry bool) (*cycle.Report, error)
}

type applications interface {
	Score(ctx context.Context, applicantID, postingID int64) (int, error)
	Confirm(ctx context.Context, applicationID int64) (*internship.Application, error)
}

// Tools exposes the manual allocation operations to MCP clients.
type Tools struct {
	cycles        cycleRunner
	applications  applications
	manualTimeout time.Duration
	logger        *zap.Logger
}

func New(cycles cycleRunner, apps applications, manualTimeout time.Duration, logger *zap.Logger) *Tools {
	if logger == nil {
		logger = zap.NewNop()
	}
	if manualTimeout <= 0 {
		manualTimeout = 2 * time.Minute
	}
	return &Tools{cycles: cycles, applications: apps, manualTimeout: manualTimeout, logger: logger}
}

// Server builds an MCP server with every tool registered.
func (t *Tools) Server(version string) *server.MCPServer {
	s := server.NewMCPServer(serverName, version, server.WithToolCapabilities(false))

	trigger := mcp.NewTool(ToolTriggerAllocation,
		mcp.WithDescription("Run one allocation cycle now and return the shortlisting summary"),
	)
	trigger.InputSchema = mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"include_expiry": map[string]any{"type": "boolean", "description": "Close expired postings before allocating (default false)"},
		},
	}
	s.AddTool(trigger, t.triggerAllocation)

	score := mcp.NewTool(ToolComputeScore,
		mcp.WithDescription("Compute the match score of an applicant for a posting without saving it"),
	)
	score.InputSchema = mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"applicant_id": map[string]any{"type": "integer", "description": "Applicant profile id"},
			"posting_id":   map[string]any{"type": "integer", "description": "Job posting id"},
		},
		Required: []string{"applicant_id", "posting_id"},
	}
	s.AddTool(score, t.computeScore)

	confirm := mcp.NewTool(ToolConfirmAllocation,
		mcp.WithDescription("Confirm a shortlisted application as Auto-Allocated"),
	)
	confirm.InputSchema = mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"application_id": map[string]any{"type": "integer", "description": "Application id"},
		},
		Required: []string{"application_id"},
	}
	s.AddTool(confirm, t.confirmAllocation)

	return s
}

// Serve speaks MCP over the given streams until ctx is cancelled or input ends.
func (t *Tools) Serve(ctx context.Context, version string, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(t.Server(version)).Listen(ctx, in, out)
}

type triggerArgs struct {
	IncludeExpiry bool `mapstructure:"include_expiry"`
}

type scoreArgs struct {
	ApplicantID int64 `mapstructure:"applicant_id"`
	PostingID   int64 `mapstructure:"posting_id"`
}

type confirmArgs struct {
	ApplicationID int64 `mapstructure:"application_id"`
}

func (t *Tools) triggerAllocation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args triggerArgs
	if err := decodeArgs(request, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.manualTimeout)
	defer cancel()

	report, err := t.cycles.RunCycle(ctx, cycle.TriggerManual, args.IncludeExpiry)
	if err != nil {
		t.logger.Warn("manual allocation failed", zap.Error(err))
		processed, shortlisted := 0, 0
		if report != nil {
			processed, shortlisted = report.PostingsProcessed, report.TotalShortlisted
		}
		return mcp.NewToolResultError(fmt.Sprintf(
			"Allocation failed after %d postings (%d shortlisted): %v", processed, shortlisted, err)), nil
	}

	return jsonResult(map[string]any{
		"run_id":             report.RunID,
		"postings_processed": report.PostingsProcessed,
		"postings_failed":    report.PostingsFailed,
		"total_shortlisted":  report.TotalShortlisted,
		"expired":            report.Expired,
	})
}

func (t *Tools) computeScore(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args scoreArgs
	if err := decodeArgs(request, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if args.ApplicantID <= 0 || args.PostingID <= 0 {
		return mcp.NewToolResultError("applicant_id and posting_id are required"), nil
	}

	score, err := t.applications.Score(ctx, args.ApplicantID, args.PostingID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to compute score: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"applicant_id": args.ApplicantID,
		"posting_id":   args.PostingID,
		"score":        score,
	})
}

func (t *Tools) confirmAllocation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args confirmArgs
	if err := decodeArgs(request, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if args.ApplicationID <= 0 {
		return mcp.NewToolResultError("application_id is required"), nil
	}

	app, err := t.applications.Confirm(ctx, args.ApplicationID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to confirm application %d: %v", args.ApplicationID, err)), nil
	}

	return jsonResult(app)
}

// decodeArgs accepts numbers sent as JSON numbers or strings.
func decodeArgs(request mcp.CallToolRequest, target any) error {
	raw, ok := request.Params.Arguments.(map[string]any)
	if !ok && request.Params.Arguments != nil {
		return fmt.Errorf("invalid arguments format")
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
