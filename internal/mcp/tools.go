package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/specgate/internal/artifact"
	"github.com/fyrsmithlabs/specgate/internal/state"
)

// workflowSummary is the wire shape tools return for a workflow.
type workflowSummary struct {
	ID            string `json:"id" jsonschema:"Workflow identifier"`
	Phase         string `json:"phase" jsonschema:"Current phase"`
	SpecPath      string `json:"spec_path,omitempty" jsonschema:"Linked specification path"`
	SpecType      string `json:"spec_type,omitempty" jsonschema:"Change classification (code, ui, api, secrets)"`
	Approved      bool   `json:"approved" jsonschema:"Whether the spec is approved"`
	RedTestDone   bool   `json:"red_test_done" jsonschema:"Red test evidence recorded"`
	GreenTestDone bool   `json:"green_test_done" jsonschema:"Green test evidence recorded"`
	BacklogStatus string `json:"backlog_status" jsonschema:"Backlog progress label"`
	IssueNumber   int    `json:"issue_number,omitempty" jsonschema:"Linked GitHub issue"`
	Artifacts     int    `json:"artifacts" jsonschema:"Attached evidence count"`
}

func summarize(w *state.Workflow) workflowSummary {
	return workflowSummary{
		ID:            w.ID,
		Phase:         string(w.Phase),
		SpecPath:      w.SpecPath,
		SpecType:      w.SpecType,
		Approved:      w.Approved,
		RedTestDone:   w.RedTestDone,
		GreenTestDone: w.GreenTestDone,
		BacklogStatus: string(w.BacklogStatus),
		IssueNumber:   w.IssueNumber,
		Artifacts:     len(w.Artifacts),
	}
}

func (s *Server) registerTools() {
	s.registerWorkflowTools()
	s.registerEvidenceTools()
	s.registerGateTools()
}

// ===== WORKFLOW TOOLS =====

type workflowStartInput struct {
	ID string `json:"id" jsonschema:"required,Workflow identifier (lowercase slug)"`
}

type workflowListInput struct{}

type workflowListOutput struct {
	Workflows []workflowSummary `json:"workflows" jsonschema:"All tracked workflows"`
	ActiveID  string            `json:"active_id,omitempty" jsonschema:"Identifier of the active workflow"`
}

type workflowStatusInput struct {
	ID string `json:"id,omitempty" jsonschema:"Workflow identifier; empty means the active workflow"`
}

type workflowAdvanceInput struct {
	ID    string `json:"id" jsonschema:"required,Workflow identifier"`
	Phase string `json:"phase" jsonschema:"required,Target phase (immediate successor, or idle to reset)"`
}

type workflowApproveInput struct {
	ID string `json:"id" jsonschema:"required,Workflow identifier"`
}

type workflowSetSpecInput struct {
	ID       string `json:"id" jsonschema:"required,Workflow identifier"`
	SpecPath string `json:"spec_path" jsonschema:"required,Path to the specification document"`
	SpecType string `json:"spec_type,omitempty" jsonschema:"Change classification (default code)"`
}

type interpretInput struct {
	ID        string `json:"id" jsonschema:"required,Workflow identifier"`
	Utterance string `json:"utterance" jsonschema:"required,User utterance to classify"`
}

type interpretOutput struct {
	Intent  string          `json:"intent" jsonschema:"Classified intent (approve, pause, none)"`
	Current workflowSummary `json:"workflow" jsonschema:"Workflow after applying the intent"`
}

func (s *Server) registerWorkflowTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workflow_start",
		Description: "Start (or reactivate) a workflow and make it active",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args workflowStartInput) (*mcp.CallToolResult, workflowSummary, error) {
		w, err := s.workflows.Start(ctx, args.ID)
		if err != nil {
			return nil, workflowSummary{}, err
		}
		return nil, summarize(w), nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workflow_list",
		Description: "List all workflows with their phases and backlog status",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args workflowListInput) (*mcp.CallToolResult, workflowListOutput, error) {
		list, err := s.workflows.List(ctx)
		if err != nil {
			return nil, workflowListOutput{}, err
		}
		out := workflowListOutput{Workflows: make([]workflowSummary, 0, len(list))}
		for _, w := range list {
			out.Workflows = append(out.Workflows, summarize(w))
		}
		if active, err := s.workflows.Active(ctx); err == nil && active != nil {
			out.ActiveID = active.ID
		}
		return nil, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workflow_status",
		Description: "Show one workflow, or the active workflow when no id is given",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args workflowStatusInput) (*mcp.CallToolResult, workflowSummary, error) {
		var w *state.Workflow
		var err error
		if args.ID == "" {
			w, err = s.workflows.Active(ctx)
			if err == nil && w == nil {
				err = fmt.Errorf("no active workflow (run: specgate start <id>)")
			}
		} else {
			w, err = s.workflows.Get(ctx, args.ID)
		}
		if err != nil {
			return nil, workflowSummary{}, err
		}
		return nil, summarize(w), nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workflow_advance",
		Description: "Advance a workflow to its next phase (or reset to idle)",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args workflowAdvanceInput) (*mcp.CallToolResult, workflowSummary, error) {
		phase, err := state.ParsePhase(args.Phase)
		if err != nil {
			return nil, workflowSummary{}, err
		}
		w, err := s.workflows.Advance(ctx, args.ID, phase)
		if err != nil {
			return nil, workflowSummary{}, err
		}
		return nil, summarize(w), nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workflow_approve",
		Description: "Record spec approval for a workflow at the spec phase",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args workflowApproveInput) (*mcp.CallToolResult, workflowSummary, error) {
		if err := s.workflows.Approve(ctx, args.ID); err != nil {
			return nil, workflowSummary{}, err
		}
		w, err := s.workflows.Get(ctx, args.ID)
		if err != nil {
			return nil, workflowSummary{}, err
		}
		return nil, summarize(w), nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workflow_set_spec",
		Description: "Attach a specification document to a workflow",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args workflowSetSpecInput) (*mcp.CallToolResult, workflowSummary, error) {
		if err := s.workflows.SetSpec(ctx, args.ID, args.SpecPath, args.SpecType); err != nil {
			return nil, workflowSummary{}, err
		}
		w, err := s.workflows.Get(ctx, args.ID)
		if err != nil {
			return nil, workflowSummary{}, err
		}
		return nil, summarize(w), nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workflow_interpret",
		Description: "Classify a user utterance (approve/pause) and apply it to the workflow",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args interpretInput) (*mcp.CallToolResult, interpretOutput, error) {
		result, err := s.workflows.ApplyUtterance(ctx, args.ID, args.Utterance)
		if err != nil {
			return nil, interpretOutput{}, err
		}
		w, err := s.workflows.Get(ctx, args.ID)
		if err != nil {
			return nil, interpretOutput{}, err
		}
		return nil, interpretOutput{Intent: string(result), Current: summarize(w)}, nil
	})
}

// ===== EVIDENCE TOOLS =====

type artifactAttachInput struct {
	ID          string `json:"id" jsonschema:"required,Workflow identifier"`
	Type        string `json:"type" jsonschema:"required,Evidence type (screenshot, log, api-response, document)"`
	Path        string `json:"path" jsonschema:"required,Path to the evidence file"`
	Description string `json:"description" jsonschema:"required,What the evidence demonstrates"`
	TestResult  string `json:"test_result,omitempty" jsonschema:"Test outcome the evidence shows (failing, passing)"`
}

type artifactAttachOutput struct {
	ArtifactID string `json:"artifact_id" jsonschema:"Minted artifact id"`
	CommitID   string `json:"commit_id,omitempty" jsonschema:"HEAD commit at attachment"`
	Phase      string `json:"phase" jsonschema:"Phase the evidence was attached at"`
}

func (s *Server) registerEvidenceTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "artifact_attach",
		Description: "Validate and attach evidence (screenshots, logs, test output) to a workflow",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args artifactAttachInput) (*mcp.CallToolResult, artifactAttachOutput, error) {
		candidate := &artifact.Candidate{
			Type:        state.ArtifactType(args.Type),
			Path:        args.Path,
			Description: args.Description,
		}
		if args.TestResult != "" {
			tr, err := state.ParseTestResult(args.TestResult)
			if err != nil {
				return nil, artifactAttachOutput{}, err
			}
			candidate.TestResult = tr
		}

		a, err := s.workflows.AttachArtifact(ctx, args.ID, candidate)
		if err != nil {
			return nil, artifactAttachOutput{}, err
		}
		return nil, artifactAttachOutput{
			ArtifactID: a.ID,
			CommitID:   a.CommitID,
			Phase:      string(a.Phase),
		}, nil
	})
}

// ===== GATE TOOLS =====

type gateCheckInput struct {
	Path string `json:"path" jsonschema:"required,File path to check against the phase gate"`
}

type gateCheckOutput struct {
	Allowed bool   `json:"allowed" jsonschema:"Whether the edit may proceed"`
	Reason  string `json:"reason" jsonschema:"Decision reason tag"`
	Message string `json:"message,omitempty" jsonschema:"Remediation guidance when blocked"`
}

func (s *Server) registerGateTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "gate_check",
		Description: "Ask the phase gate whether a file path may be edited right now",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args gateCheckInput) (*mcp.CallToolResult, gateCheckOutput, error) {
		d := s.gate.Check(ctx, args.Path)
		return nil, gateCheckOutput{
			Allowed: d.Allowed,
			Reason:  string(d.Reason),
			Message: d.Message,
		}, nil
	})
}
